package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/bookhub/internal/config"
)

// CounterStore は期限付きカウンタを保持する外部ストア。
// Increment はキーを1増やした後の値を返し、キーを新規作成した場合のみttlを設定する。
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Policy は呼び出し元クラスごとのクォータ。
type Policy struct {
	// Class は対象の呼び出し元クラス。
	Class CallerClass
	// Limit はウィンドウあたりの最大リクエスト数。
	Limit int64
	// WindowSeconds はウィンドウの長さ（秒）。
	WindowSeconds int64
}

// PoliciesFromConfig は設定からクラスごとのポリシーを生成する。
func PoliciesFromConfig(cfg config.QuotasConfig) []Policy {
	return []Policy{
		{Class: ClassAnonymous, Limit: cfg.Anonymous.Limit, WindowSeconds: cfg.Anonymous.WindowSeconds},
		{Class: ClassAuthenticated, Limit: cfg.Authenticated.Limit, WindowSeconds: cfg.Authenticated.WindowSeconds},
		{Class: ClassAdmin, Limit: cfg.Admin.Limit, WindowSeconds: cfg.Admin.WindowSeconds},
	}
}

// Decision はクォータ判定の結果。
type Decision struct {
	// Allowed はリクエストを許可するかどうか。
	Allowed bool
	// Limit はウィンドウあたりの最大リクエスト数。
	Limit int64
	// Remaining は現在のウィンドウで残っているリクエスト数。
	Remaining int64
	// Count は現在のウィンドウでのリクエスト数（今回分を含む）。
	Count int64
	// ResetAfter は現在のウィンドウが終わるまでの時間。
	ResetAfter time.Duration
}

// Enforcer は固定ウィンドウ方式でクォータを判定する。
// ローカルにカウントを保持せず、判定ごとにカウンタストアを1回だけ更新する。
type Enforcer struct {
	store    CounterStore
	policies map[CallerClass]Policy
	now      func() time.Time
}

// NewEnforcer は新しい Enforcer を生成する。
// 全クラスに正の上限とウィンドウを持つポリシーがちょうど1つずつ必要。
func NewEnforcer(store CounterStore, policies []Policy) (*Enforcer, error) {
	if store == nil {
		return nil, errors.New("カウンタストアが指定されていません")
	}

	byClass := make(map[CallerClass]Policy, len(policies))
	for _, p := range policies {
		if _, dup := byClass[p.Class]; dup {
			return nil, fmt.Errorf("クラス %s のポリシーが重複しています", p.Class)
		}
		if p.Limit <= 0 || p.WindowSeconds <= 0 {
			return nil, fmt.Errorf("クラス %s のポリシーが不正です: limit=%d, window_seconds=%d", p.Class, p.Limit, p.WindowSeconds)
		}
		byClass[p.Class] = p
	}
	for _, class := range callerClasses {
		if _, ok := byClass[class]; !ok {
			return nil, fmt.Errorf("クラス %s のポリシーがありません", class)
		}
	}
	if len(byClass) != len(callerClasses) {
		return nil, errors.New("未知のクラスのポリシーが含まれています")
	}

	return &Enforcer{store: store, policies: byClass, now: time.Now}, nil
}

// Policy はクラスのポリシーを返す。
func (e *Enforcer) Policy(class CallerClass) (Policy, bool) {
	p, ok := e.policies[class]
	return p, ok
}

// Allow は呼び出し元のリクエストをカウントし、クォータ内かどうかを判定する。
// カウンタストアとの通信に失敗した場合は ErrUpstreamUnavailable を返す。
func (e *Enforcer) Allow(ctx context.Context, identity string, class CallerClass) (Decision, error) {
	p, ok := e.policies[class]
	if !ok {
		return Decision{}, fmt.Errorf("クラス %s のポリシーがありません", class)
	}

	now := e.now()
	windowIndex := now.Unix() / p.WindowSeconds
	windowEnd := time.Unix((windowIndex+1)*p.WindowSeconds, 0)
	// カウンタがウィンドウより長く残らないよう、ウィンドウ終了までの残り時間を有効期限にする
	resetAfter := windowEnd.Sub(now)

	key := fmt.Sprintf("quota:%s:%s:%d", class, identity, windowIndex)
	count, err := e.store.Increment(ctx, key, resetAfter)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: クォータカウンタの更新に失敗: %w", ErrUpstreamUnavailable, err)
	}

	return Decision{
		Allowed:    count <= p.Limit,
		Limit:      p.Limit,
		Remaining:  max(p.Limit-count, 0),
		Count:      count,
		ResetAfter: resetAfter,
	}, nil
}
