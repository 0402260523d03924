package usecase

import (
	"sort"
	"strconv"
	"strings"

	"github.com/user/listing-monitor/internal/entity"
	"github.com/user/listing-monitor/pkg/utils"
)

// Fingerprint is a stable hash over the sorted, type-tagged field map.
func Fingerprint(fields entity.Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		switch v := fields[k].(type) {
		case float64:
			b.WriteString("n:")
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		case bool:
			b.WriteString("b:")
			b.WriteString(strconv.FormatBool(v))
		default:
			b.WriteString("s:")
			b.WriteString(strconv.Quote(FormatValue(v)))
		}
		b.WriteByte('\n')
	}
	return utils.Hash(b.String())
}
