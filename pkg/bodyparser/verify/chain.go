package verify

import (
	"net/http"

	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
)

// Chain runs hooks in order and returns the first error. Nil hooks are skipped.
func Chain(hooks ...bodyparser.VerifyFunc) bodyparser.VerifyFunc {
	return func(w http.ResponseWriter, r *http.Request, raw []byte, charset string) error {
		for _, hook := range hooks {
			if hook == nil {
				continue
			}
			if err := hook(w, r, raw, charset); err != nil {
				return err
			}
		}
		return nil
	}
}
