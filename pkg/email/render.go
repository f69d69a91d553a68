package email

import (
	"context"
	"errors"
	"strings"

	"github.com/a-h/templ"
)

// Render renders a templ component into an HTML string for BodyHTML.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	if tpl == nil {
		return "", errors.Join(ErrRenderFailed, errors.New("nil component"))
	}
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", errors.Join(ErrRenderFailed, err)
	}
	return sb.String(), nil
}
