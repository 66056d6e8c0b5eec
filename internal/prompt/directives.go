package prompt

import (
	"fmt"

	"github.com/capitalize-ai/guarded-chat/internal/model"
)

// Each mapping below covers its enum exhaustively; an unknown value is a
// programming error surfaced by the tests that range over model.Tones() etc.

func toneDirective(t model.Tone) (string, error) {
	switch t {
	case model.ToneWarm:
		return "cercano y amigable", nil
	case model.ToneNeutral:
		return "equilibrado y profesional", nil
	case model.ToneFormal:
		return "formal y respetuoso", nil
	case model.ToneFunny:
		return "ligero y con humor apropiado", nil
	}
	return "", fmt.Errorf("unmapped tone %q", t)
}

func verbosityDirective(v model.Verbosity) (string, error) {
	switch v {
	case model.VerbosityShort:
		return "conciso y directo al grano", nil
	case model.VerbosityMedium:
		return "equilibrado entre brevedad y detalle", nil
	case model.VerbosityDetailed:
		return "detallado, con explicaciones completas", nil
	}
	return "", fmt.Errorf("unmapped verbosity %q", v)
}

func emojiDirective(e model.EmojiPreference) (string, error) {
	switch e {
	case model.EmojiNone:
		return "no usar emojis", nil
	case model.EmojiLight:
		return "emojis ocasionales, solo para dar énfasis", nil
	case model.EmojiHeavy:
		return "usar emojis con frecuencia", nil
	}
	return "", fmt.Errorf("unmapped emoji preference %q", e)
}

func formatDirective(f model.ResponseFormat) (string, error) {
	switch f {
	case model.FormatSteps:
		return "pasos numerados", nil
	case model.FormatList:
		return "listas con viñetas", nil
	case model.FormatDirect:
		return "respuesta directa sin formato especial", nil
	}
	return "", fmt.Errorf("unmapped format %q", f)
}

func speedDirective(s model.ResponseSpeed) (string, error) {
	switch s {
	case model.SpeedQuick:
		return "respuestas rápidas y concretas", nil
	case model.SpeedExplained:
		return "respuestas explicadas paso a paso", nil
	}
	return "", fmt.Errorf("unmapped response speed %q", s)
}
