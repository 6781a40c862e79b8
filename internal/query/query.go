// Package query は一覧エンドポイントのクエリ文字列解釈を提供する。
// where/sort/selectはJSONエンコードされた値、skip/limitは整数、
// count=trueで件数モードになる。
package query

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hitoshi/taskboard/internal/repository"
)

// Params は一覧エンドポイントのクエリ文字列を解釈した結果。
type Params struct {
	List repository.ListOptions

	// Count はcount=trueが指定されたかどうか。
	Count bool

	// Paginated はskipまたはlimitが明示的に指定されたかどうか。
	// 件数モードの挙動がこれで分岐する: ページネーションなしなら全件数、
	// ありならページ内の件数を返す。
	Paginated bool
}

// Parse はクエリ文字列をParamsに解釈する。
// defaultLimitはlimit未指定時の取得上限（0で無制限）。
// 解釈できない値は無視してデフォルトにフォールバックする。
func Parse(values url.Values, defaultLimit int64) Params {
	p := Params{
		List: repository.ListOptions{
			Where:  ParseObject(values.Get("where")),
			Sort:   parseOrderedSort(values.Get("sort")),
			Select: ParseObject(values.Get("select")),
			Skip:   parseInt64(values.Get("skip"), 0),
			Limit:  parseInt64(values.Get("limit"), defaultLimit),
		},
		Count:     values.Get("count") == "true",
		Paginated: values.Get("skip") != "" || values.Get("limit") != "",
	}
	return p
}

// ParseObject はJSONオブジェクト文字列をbson.Mに解釈する。
// 空文字列や不正なJSONの場合はnilを返す。
// 単一ドキュメント取得のselectパラメータにも使う。
func ParseObject(s string) bson.M {
	if s == "" {
		return nil
	}
	var m bson.M
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// parseOrderedSort はJSONオブジェクト文字列をキーの出現順を保持したまま
// bson.Dに解釈する。複数キーのソートではキー順が優先順位になるため、
// mapではなくトークン走査で順序を保持する。
// 不正なJSONの場合はnilを返す。
func parseOrderedSort(s string) bson.D {
	if s == "" {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var sort bson.D
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil
		}

		switch v := valTok.(type) {
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil
			}
			sort = append(sort, bson.E{Key: key, Value: int(n)})
		case string:
			// mongoose互換: "asc"/"desc" も受け付ける
			switch v {
			case "asc", "ascending":
				sort = append(sort, bson.E{Key: key, Value: 1})
			case "desc", "descending":
				sort = append(sort, bson.E{Key: key, Value: -1})
			default:
				return nil
			}
		default:
			return nil
		}
	}

	return sort
}

// parseInt64 は整数文字列を解釈し、空または不正な場合はdefaultValを返す。
// 負値はdefaultValに丸める。
func parseInt64(s string, defaultVal int64) int64 {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
