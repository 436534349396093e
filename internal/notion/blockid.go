package notion

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	compactIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

	// スラッグ末尾の ID（例: My-Page-<32hex> / My-Page-<8-4-4-4-12>）
	dashedTailPattern  = regexp.MustCompile(`(?:^|[^0-9a-fA-F])([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})$`)
	compactTailPattern = regexp.MustCompile(`(?:^|-)([0-9a-fA-F]{32})$`)
	hexTailPattern     = regexp.MustCompile(`[0-9a-fA-F-]*$`)
)

// peekQueryKey は Notion がデータベース上でページを開いたときに付与するクエリです。
const peekQueryKey = "p"

// NormalizeBlockID は ID または URL からブロック ID を取り出し、正規化した文字列を返します。
// 取り出せない場合は ("", false) を返します。
func NormalizeBlockID(idOrURL string) (string, bool) {
	return ValidateUUID(BlockIDFromURL(idOrURL))
}

// BlockIDFromURL は URL のパスまたはクエリから ID 候補となるトークンを取り出します。
//
// URL らしくない入力（スキームもスラッシュも含まない）は前後の空白を除いてそのまま返すため、
// 素の ID に紛れ込んだ記号は ValidateUUID で弾かれます。
// 戻り値は検証前の候補であり、妥当性は保証しません。
func BlockIDFromURL(raw string) string {
	s := strings.TrimSpace(raw)
	if !looksLikeURL(s) {
		return s
	}

	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if peek := strings.TrimSpace(u.Query().Get(peekQueryKey)); peek != "" {
		return trailingToken(peek)
	}

	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return trailingToken(path)
}

// ValidateUUID はハイフンを除いて 32 桁の16進数であることを確認し、
// 8-4-4-4-12 の小文字表記に整形します。前方一致や切り詰めは行いません。
func ValidateUUID(s string) (string, bool) {
	compact := strings.ReplaceAll(s, "-", "")
	if !compactIDPattern.MatchString(compact) {
		return "", false
	}
	id, err := uuid.Parse(compact)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.Contains(s, "/")
}

// trailingToken は末尾のスラッグ要素を取り出す。どちらの形にも一致しない場合は
// 末尾の 16 進数とハイフンの連なりを丸ごと返し、長さの判定は ValidateUUID に任せる。
func trailingToken(segment string) string {
	if m := dashedTailPattern.FindStringSubmatch(segment); m != nil {
		return m[1]
	}
	if m := compactTailPattern.FindStringSubmatch(segment); m != nil {
		return m[1]
	}
	return hexTailPattern.FindString(segment)
}
