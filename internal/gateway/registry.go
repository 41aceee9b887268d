package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
)

// Registry は論理サービス名からバックエンドのベースURLを解決する。
// 起動時に構築し、以降は変更しない。
type Registry struct {
	services map[string]*url.URL
}

// NewRegistry はサービス名とベースURLの対応表からレジストリを生成する。
// 空のサービス名や、http/https の絶対URLでないベースURLはエラーになる。
func NewRegistry(entries map[string]string) (*Registry, error) {
	services := make(map[string]*url.URL, len(entries))
	for name, raw := range entries {
		if name == "" {
			return nil, errors.New("サービス名が空です")
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("サービス %s のURLが不正です: %w", name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("サービス %s のURLは http または https の絶対URLである必要があります: %q", name, raw)
		}
		services[name] = u
	}
	return &Registry{services: services}, nil
}

// Resolve はサービス名に対応するベースURLのコピーを返す。
// 名前は大文字小文字を区別して完全一致で照合する。
func (r *Registry) Resolve(name string) (*url.URL, error) {
	u, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	resolved := *u
	return &resolved, nil
}

// Names は登録されているサービス名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
