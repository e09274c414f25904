package poll

import (
	"fmt"

	"github.com/onnwee/matchpoll/backend/valorant"
)

// Template names a question shape.
type Template string

const (
	TemplateAverageKD Template = "average_kd"
	TemplateWinLoss   Template = "win_loss"
	TemplateHeadshot  Template = "headshot"
	TemplateBodyshot  Template = "bodyshot"
	TemplateLegshot   Template = "legshot"
	TemplateUltimate  Template = "ultimate"
)

// Templates is the fixed set a valorant question is drawn from.
var Templates = []Template{
	TemplateAverageKD,
	TemplateWinLoss,
	TemplateHeadshot,
	TemplateBodyshot,
	TemplateLegshot,
	TemplateUltimate,
}

const (
	PinInstruction  = "Mods: start a prediction with this question (Yes / No) and pin it!"
	ChessOpenNotice = "A chess match is active! Predictions are open."
	ChessOverNotice = "The chess match is over! Mods, please resolve the prediction."
	resolvePrompt   = "Mods, please resolve the prediction."
)

// Render fills the template from s.
func (t Template) Render(player string, s *valorant.Summary) string {
	switch t {
	case TemplateAverageKD:
		return fmt.Sprintf("Will %s finish this match with a K/D above %.2f?", player, s.KDA)
	case TemplateWinLoss:
		return fmt.Sprintf("Will %s win this match? (%d wins in the last %d)", player, s.Wins, s.Window)
	case TemplateHeadshot:
		return fmt.Sprintf("Will %s land more than %d headshots this match?", player, s.PerGame.Headshots)
	case TemplateBodyshot:
		return fmt.Sprintf("Will %s land more than %d bodyshots this match?", player, s.PerGame.Bodyshots)
	case TemplateLegshot:
		return fmt.Sprintf("Will %s land more than %d legshots this match?", player, s.PerGame.Legshots)
	case TemplateUltimate:
		return fmt.Sprintf("Will %s use their ultimate more than %d times this match?", player, s.PerGame.Ultimate)
	}
	return fmt.Sprintf("Will %s win this match?", player)
}

// Announcement is the question plus the pin instruction as one message, so
// the chat cooldown cannot drop the instruction.
func Announcement(question string) string {
	return question + " | " + PinInstruction
}

// ResultMessage announces a finished valorant match.
func ResultMessage(player string, r *valorant.MatchResult) string {
	if r == nil || !r.Found {
		return "The match is over! " + resolvePrompt
	}
	outcome := "lost"
	if r.Won {
		outcome = "won"
	}
	kd := float64(r.Kills) / float64(max(r.Deaths, 1))
	return fmt.Sprintf("Match over: %s %s with %d/%d/%d (K/D %.2f). %s",
		player, outcome, r.Kills, r.Deaths, r.Assists, kd, resolvePrompt)
}
