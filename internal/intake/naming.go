package intake

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const stampLayout = "20060102150405"

// names produces the flat filenames of one upload. All names of an upload
// share the timestamp and token.
type names struct {
	stamp string
	token string
}

func newNames(now time.Time) names {
	return names{
		stamp: now.UTC().Format(stampLayout),
		token: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

func (n names) primary(ext string) string {
	return n.stamp + "_" + n.token + ext
}

func (n names) variant(label, ext string) string {
	return n.stamp + "_" + label + "_" + n.token + ext
}

func (n names) thumbnail() string {
	return "t" + n.stamp + "_" + n.token + ".jpg"
}
