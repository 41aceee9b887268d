// Package catalog は書籍カタログサービスを提供する。
//
// 書籍とカテゴリの参照と管理、注文サービス向けの在庫増減APIを担当する。
// 在庫増減APIはサービス間の共有シークレットで保護し、ゲートウェイ経由の利用者には公開しない。
package catalog
