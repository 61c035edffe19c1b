package translate

import (
	"context"
	"errors"

	gtranslate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
)

type GoogleTranslate struct {
	c *gtranslate.Client
}

func NewGoogleTranslate(ctx context.Context) (*GoogleTranslate, error) {
	c, err := gtranslate.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleTranslate{c: c}, nil
}

func (g *GoogleTranslate) Close() error { return g.c.Close() }

func (g *GoogleTranslate) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	target, err := language.Parse(targetLang)
	if err != nil {
		return "", err
	}

	opts := &gtranslate.Options{Format: gtranslate.Text}
	if src, err := language.Parse(sourceLang); err == nil {
		opts.Source = src
	}

	out, err := g.c.Translate(ctx, []string{text}, target, opts)
	if err != nil {
		return "", err
	}
	if len(out) == 0 || out[0].Text == "" {
		return "", errors.New("translate: empty response")
	}
	return out[0].Text, nil
}
