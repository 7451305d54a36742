package services

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/matchpoint-app/matchpoint/models"
)

// EmailMessage — готовое к отправке письмо: тема и HTML-тело.
type EmailMessage struct {
	Subject string
	HTML    string
}

// Сборка писем — чистая функция: (вид события, данные) -> (тема, тело).
// Никакого I/O и состояния, результат полностью детерминирован входом,
// поэтому содержимое писем тестируется изолированно.

const baseLayoutTmpl = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background:#f4f4f4;font-family:Arial,Helvetica,sans-serif;">
  <table width="100%" cellpadding="0" cellspacing="0" style="background:#f4f4f4;padding:24px 0;">
    <tr><td align="center">
      <table width="600" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;overflow:hidden;box-shadow:0 2px 8px rgba(0,0,0,0.08);">
        <tr>
          <td style="background:#2e7d32;padding:20px 32px;">
            <h1 style="margin:0;color:#ffffff;font-size:22px;">&#127934; {{.Title}}</h1>
          </td>
        </tr>
        <tr>
          <td style="padding:24px 32px 32px;">
            {{.Body}}
          </td>
        </tr>
        <tr>
          <td style="background:#f9f9f9;padding:16px 32px;font-size:12px;color:#888;">
            Matchpoint Notifications &mdash; Update your preferences in your profile settings.
          </td>
        </tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`

const matchDetailsTmpl = `
    <table style="width:100%;border-collapse:collapse;margin:16px 0;">
      <tr><td style="padding:6px 0;color:#555;width:110px;"><strong>Date &amp; Time</strong></td><td>{{.Start}} &ndash; {{.End}}</td></tr>
      <tr><td style="padding:6px 0;color:#555;"><strong>Location</strong></td><td>{{.CourtAddress}}</td></tr>
      {{if .MinNTRP}}<tr><td style="padding:6px 0;color:#555;"><strong>Min NTRP</strong></td><td>{{.MinNTRP}}</td></tr>{{end}}
      <tr><td style="padding:6px 0;color:#555;"><strong>Max Players</strong></td><td>{{.MaxPlayers}}</td></tr>
    </table>`

var (
	baseLayout   = template.Must(template.New("base").Parse(baseLayoutTmpl))
	matchDetails = template.Must(template.New("details").Parse(matchDetailsTmpl))
)

func formatMatchTime(t time.Time) string {
	return t.Format("Monday, January 2, 3:04 PM")
}

type matchDetailsData struct {
	Start        string
	End          string
	CourtAddress string
	MinNTRP      string
	MaxPlayers   int
}

func renderMatchDetails(match *models.Match) (template.HTML, error) {
	data := matchDetailsData{
		Start:        formatMatchTime(match.StartTime),
		End:          formatMatchTime(match.EndTime),
		CourtAddress: match.CourtAddress,
		MaxPlayers:   match.MaxPlayers,
	}
	if match.MinNTRPLevel != nil {
		data.MinNTRP = fmt.Sprintf("%g", *match.MinNTRPLevel)
	}

	var buf bytes.Buffer
	if err := matchDetails.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render match details block: %w", err)
	}
	return template.HTML(buf.String()), nil
}

func renderLayout(title string, body template.HTML) (string, error) {
	var buf bytes.Buffer
	err := baseLayout.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: body})
	if err != nil {
		return "", fmt.Errorf("failed to render email layout: %w", err)
	}
	return buf.String(), nil
}

func renderBody(tmpl *template.Template, data interface{}) (template.HTML, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render email body %q: %w", tmpl.Name(), err)
	}
	return template.HTML(buf.String()), nil
}

var newMatchBody = template.Must(template.New("new_match").Parse(`
    <p style="font-size:16px;color:#333;">A new tennis match is available! <strong>{{.OpenSpots}}</strong> spot{{if ne .OpenSpots 1}}s{{end}} open.</p>
    {{.Details}}
    <p style="color:#555;">Organized by <strong>{{.OrganizerName}}</strong>.</p>`))

// ComposeMatchCreated — рассылка о новом матче.
func ComposeMatchCreated(match *models.Match) (EmailMessage, error) {
	details, err := renderMatchDetails(match)
	if err != nil {
		return EmailMessage{}, err
	}

	organizerName := derefString(match.OrganizerName)
	if organizerName == "" {
		organizerName = "a player"
	}

	body, err := renderBody(newMatchBody, struct {
		OpenSpots     int
		Details       template.HTML
		OrganizerName string
	}{OpenSpots: match.OpenSpots(), Details: details, OrganizerName: organizerName})
	if err != nil {
		return EmailMessage{}, err
	}

	html, err := renderLayout("New Match Available", body)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{Subject: "New tennis match available!", HTML: html}, nil
}

var cancelledBody = template.Must(template.New("cancelled").Parse(`
    <p style="font-size:16px;color:#c62828;">A match you were registered for has been cancelled.</p>
    {{.Details}}
    <p style="color:#555;">We're sorry for the inconvenience. Check the app for other upcoming matches!</p>`))

// ComposeMatchCancelled — письмо об отмене матча его участникам.
func ComposeMatchCancelled(match *models.Match) (EmailMessage, error) {
	details, err := renderMatchDetails(match)
	if err != nil {
		return EmailMessage{}, err
	}
	body, err := renderBody(cancelledBody, struct{ Details template.HTML }{Details: details})
	if err != nil {
		return EmailMessage{}, err
	}
	html, err := renderLayout("Match Cancelled", body)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{
		Subject: fmt.Sprintf("Match cancelled — %s", formatMatchTime(match.StartTime)),
		HTML:    html,
	}, nil
}

var promotionBody = template.Must(template.New("promotion").Parse(`
    <p style="font-size:16px;color:#2e7d32;"><strong>Great news, {{.PlayerName}}!</strong> A spot opened up and you've been promoted from the waitlist.</p>
    <p style="font-size:15px;color:#333;">You are now <strong>registered</strong> for this match:</p>
    {{.Details}}
    <p style="color:#555;">See you on the court!</p>`))

// ComposeWaitlistPromotion — уведомление повышенному с листа ожидания игроку.
func ComposeWaitlistPromotion(match *models.Match, playerName string) (EmailMessage, error) {
	details, err := renderMatchDetails(match)
	if err != nil {
		return EmailMessage{}, err
	}
	body, err := renderBody(promotionBody, struct {
		PlayerName string
		Details    template.HTML
	}{PlayerName: playerName, Details: details})
	if err != nil {
		return EmailMessage{}, err
	}
	html, err := renderLayout("You're In!", body)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{Subject: "You're in! Promoted from waitlist", HTML: html}, nil
}

var reminderBody = template.Must(template.New("reminder").Parse(`
    <p style="font-size:16px;color:#333;">Your match is coming up in <strong>{{.WindowLabel}}</strong>!</p>
    {{.Details}}
    <p style="color:#555;"><strong>Players:</strong></p>
    <ul style="color:#333;">{{range .Players}}<li>{{.}}</li>{{end}}</ul>`))

// ComposeMatchReminder — напоминание подтверждённым игрокам со списком состава.
func ComposeMatchReminder(match *models.Match, registered []*models.Registration, windowLabel string) (EmailMessage, error) {
	details, err := renderMatchDetails(match)
	if err != nil {
		return EmailMessage{}, err
	}

	players := make([]string, 0, len(registered))
	for _, reg := range registered {
		if reg.Player == nil {
			continue
		}
		entry := reg.Player.Name
		if reg.Player.NTRPLevel != nil {
			entry = fmt.Sprintf("%s (NTRP %g)", reg.Player.Name, *reg.Player.NTRPLevel)
		}
		players = append(players, entry)
	}

	body, err := renderBody(reminderBody, struct {
		WindowLabel string
		Details     template.HTML
		Players     []string
	}{WindowLabel: windowLabel, Details: details, Players: players})
	if err != nil {
		return EmailMessage{}, err
	}
	html, err := renderLayout("Match Reminder", body)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{
		Subject: fmt.Sprintf("Reminder: match in %s", windowLabel),
		HTML:    html,
	}, nil
}

var unfilledBody = template.Must(template.New("unfilled").Parse(`
    <p style="font-size:16px;color:#333;">A match still needs <strong>{{.OpenSpots}}</strong> more player{{if ne .OpenSpots 1}}s{{end}}!</p>
    {{.Details}}
    <p style="color:#555;">Join now before it fills up!</p>`))

// ComposeUnfilledMatch — приглашение в незаполненный матч.
func ComposeUnfilledMatch(match *models.Match, openSpots int) (EmailMessage, error) {
	details, err := renderMatchDetails(match)
	if err != nil {
		return EmailMessage{}, err
	}
	body, err := renderBody(unfilledBody, struct {
		OpenSpots int
		Details   template.HTML
	}{OpenSpots: openSpots, Details: details})
	if err != nil {
		return EmailMessage{}, err
	}
	html, err := renderLayout("Match Needs Players", body)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{Subject: "Match needs players!", HTML: html}, nil
}

var customBody = template.Must(template.New("custom").Parse(`
    <p style="font-size:16px;color:#333;">You have a message from <strong>{{.SenderName}}</strong>:</p>
    <div style="background:#f8fafc;border-left:4px solid #2e7d32;padding:12px 16px;margin:16px 0;border-radius:0 4px 4px 0;">
      <p style="color:#333;white-space:pre-wrap;margin:0;">{{.Message}}</p>
    </div>
    {{if .Matches}}<h2 style="font-size:18px;color:#333;margin-top:24px;">Match Details</h2>
    {{range .Matches}}<h3 style="margin:16px 0 0;color:#333;">Match at {{.CourtAddress}}</h3>{{.Details}}{{end}}{{end}}`))

// ComposeCustomMessage — произвольное сообщение от игрока, опционально с
// контекстом из прикреплённых матчей.
func ComposeCustomMessage(senderName, message string, matches []*models.Match) (EmailMessage, error) {
	type matchBlock struct {
		CourtAddress string
		Details      template.HTML
	}
	blocks := make([]matchBlock, 0, len(matches))
	for _, m := range matches {
		details, err := renderMatchDetails(m)
		if err != nil {
			return EmailMessage{}, err
		}
		blocks = append(blocks, matchBlock{CourtAddress: m.CourtAddress, Details: details})
	}

	body, err := renderBody(customBody, struct {
		SenderName string
		Message    string
		Matches    []matchBlock
	}{SenderName: senderName, Message: message, Matches: blocks})
	if err != nil {
		return EmailMessage{}, err
	}
	html, err := renderLayout("Message from a Player", body)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{
		Subject: fmt.Sprintf("Message from %s — Matchpoint", senderName),
		HTML:    html,
	}, nil
}
