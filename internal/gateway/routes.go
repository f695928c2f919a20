package gateway

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RewriteRule はパス先頭の Strip を Replace に置き換える書き換え規則。
type RewriteRule struct {
	// Strip はパス先頭から取り除く文字列。
	Strip string
	// Replace は取り除いた位置に挿入する文字列。
	Replace string
}

// Apply は規則をパスに適用する。結果は常に "/" で始まる。
func (r RewriteRule) Apply(path string) string {
	if r.Strip != "" && strings.HasPrefix(path, r.Strip) {
		path = r.Replace + strings.TrimPrefix(path, r.Strip)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// RouteEntry はパスプレフィックスとバックエンドの対応。起動後は変更しない。
type RouteEntry struct {
	// Name はルートの名前。
	Name string
	// Prefix は照合するパスプレフィックス。
	Prefix string
	// Backend はバックエンドのベースURL。
	Backend *url.URL
	// Rewrite はパスの書き換え規則。
	Rewrite RewriteRule
	// RequiresAuth がtrueの場合は転送前にトークンを検証する。
	RequiresAuth bool
	// Timeout は転送タイムアウト。
	Timeout time.Duration
}

// matches はパスがこのルートのプレフィックスにセグメント境界で一致するかを判定する。
func (e RouteEntry) matches(path string) bool {
	return path == e.Prefix || strings.HasPrefix(path, e.Prefix+"/")
}

// Target は書き換え済みのパスとクエリから転送先のURLを組み立てる。
func (e RouteEntry) Target(in *url.URL) *url.URL {
	out := *e.Backend
	base := strings.TrimSuffix(e.Backend.Path, "/")
	out.Path = base + e.Rewrite.Apply(in.Path)
	out.RawPath = ""
	if in.RawPath != "" {
		rawBase := strings.TrimSuffix(e.Backend.EscapedPath(), "/")
		out.RawPath = rawBase + e.Rewrite.Apply(in.RawPath)
	}
	out.RawQuery = in.RawQuery
	out.Fragment = ""
	return &out
}

// RouteTable は起動時に一度だけ構築される不変のルート一覧。
type RouteTable struct {
	entries []RouteEntry
}

// NewRouteTable はルート定義を検証してRouteTableを構築する。
// 定義に誤りがある場合は *ConfigError を返す。
func NewRouteTable(specs []RouteSpec, defaultTimeout time.Duration) (*RouteTable, error) {
	if len(specs) == 0 {
		return nil, &ConfigError{Field: "routes", Err: fmt.Errorf("ルートが1件も定義されていません")}
	}

	entries := make([]RouteEntry, 0, len(specs))
	for _, spec := range specs {
		entry, err := newRouteEntry(spec, defaultTimeout)
		if err != nil {
			return nil, err
		}
		for _, other := range entries {
			if entry.matches(other.Prefix) || other.matches(entry.Prefix) {
				return nil, &ConfigError{
					Field: "routes." + spec.Name,
					Err:   fmt.Errorf("プレフィックス %q がルート %q の %q と重複しています", entry.Prefix, other.Name, other.Prefix),
				}
			}
			if entry.Name == other.Name {
				return nil, &ConfigError{Field: "routes." + spec.Name, Err: fmt.Errorf("ルート名が重複しています")}
			}
		}
		entries = append(entries, entry)
	}
	return &RouteTable{entries: entries}, nil
}

func newRouteEntry(spec RouteSpec, defaultTimeout time.Duration) (RouteEntry, error) {
	field := "routes." + spec.Name
	if spec.Name == "" {
		return RouteEntry{}, &ConfigError{Field: "routes", Err: fmt.Errorf("ルート名が空です (prefix=%q)", spec.Prefix)}
	}
	if !strings.HasPrefix(spec.Prefix, "/") || strings.HasSuffix(spec.Prefix, "/") {
		return RouteEntry{}, &ConfigError{Field: field, Err: fmt.Errorf("不正なプレフィックスです: %q", spec.Prefix)}
	}
	if spec.BackendURL == "" {
		return RouteEntry{}, &ConfigError{Field: field, Err: fmt.Errorf("バックエンドURLが設定されていません")}
	}
	backend, err := url.Parse(spec.BackendURL)
	if err != nil {
		return RouteEntry{}, &ConfigError{Field: field, Err: fmt.Errorf("バックエンドURLの解析に失敗: %w", err)}
	}
	if (backend.Scheme != "http" && backend.Scheme != "https") || backend.Host == "" {
		return RouteEntry{}, &ConfigError{Field: field, Err: fmt.Errorf("バックエンドURLはhttpまたはhttpsの絶対URLである必要があります: %q", spec.BackendURL)}
	}
	if backend.RawQuery != "" || backend.Fragment != "" {
		return RouteEntry{}, &ConfigError{Field: field, Err: fmt.Errorf("バックエンドURLにクエリやフラグメントは指定できません: %q", spec.BackendURL)}
	}

	timeout := defaultTimeout
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return RouteEntry{}, &ConfigError{Field: field, Err: fmt.Errorf("タイムアウトの解析に失敗: %w", err)}
		}
		if d < 0 {
			return RouteEntry{}, &ConfigError{Field: field, Err: fmt.Errorf("タイムアウトに負の値は指定できません: %s", d)}
		}
		if d > 0 {
			timeout = d
		}
	}

	rewrite := RewriteRule{Strip: spec.Prefix}
	if spec.Rewrite != nil {
		// stripはプレフィックスに一致するすべてのパスの先頭にセグメント単位で現れなければならない
		strip := spec.Rewrite.Strip
		if strip != "" && strip != spec.Prefix && !strings.HasPrefix(spec.Prefix, strip+"/") {
			return RouteEntry{}, &ConfigError{
				Field: field,
				Err:   fmt.Errorf("rewrite.strip %q はプレフィックス %q の先頭のセグメントである必要があります", strip, spec.Prefix),
			}
		}
		rewrite = RewriteRule{Strip: spec.Rewrite.Strip, Replace: spec.Rewrite.Replace}
	}

	return RouteEntry{
		Name:         spec.Name,
		Prefix:       spec.Prefix,
		Backend:      backend,
		Rewrite:      rewrite,
		RequiresAuth: !spec.Public,
		Timeout:      timeout,
	}, nil
}

// Resolve はパスに一致するルートを返す。一致しない場合は ErrRouteNotFound を返す。
// プレフィックスは互いに重複しないため、一致するルートは高々1件である。
func (t *RouteTable) Resolve(path string) (RouteEntry, error) {
	for _, e := range t.entries {
		if e.matches(path) {
			return e, nil
		}
	}
	return RouteEntry{}, ErrRouteNotFound
}

// Entries はルートの一覧を定義順に返す。
func (t *RouteTable) Entries() []RouteEntry {
	out := make([]RouteEntry, len(t.entries))
	copy(out, t.entries)
	return out
}
