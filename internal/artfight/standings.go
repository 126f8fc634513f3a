package artfight

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"artfightwatch/internal/model"
)

var (
	styleWidthRe = regexp.MustCompile(`width:\s*([\d.]+)%`)
	styleColorRe = regexp.MustCompile(`background-color:\s*([^;]+)`)
	intRe        = regexp.MustCompile(`\d+`)
	floatRe      = regexp.MustCompile(`[\d.]+`)
)

// progressBar is one parsed bar of the standings widget.
type progressBar struct {
	color string
	width float64
}

// FetchStandings fetches the event page and parses one standings snapshot.
// The two percentage fields are load-bearing: a widget without exactly two
// readable bars is a parse failure. The per-team metric cards are
// supplementary and degrade to nil when missing or malformed.
//
// The returned snapshot carries LeaderChange=false; classification against
// the previous sample is the leader detector's job, not the parser's.
func (c *Client) FetchStandings(ctx context.Context) (*model.Standing, error) {
	doc, err := c.getDocument(ctx, "/event", nil)
	if err != nil {
		return nil, err
	}
	return c.parseStandings(doc)
}

func (c *Client) parseStandings(doc *goquery.Document) (*model.Standing, error) {
	bars := collectBars(doc)
	if len(bars) != 2 {
		return nil, eris.Wrapf(ErrParse, "artfight: expected 2 progress bars, found %d", len(bars))
	}

	team1Pct, fallback := c.resolveTeam1Percentage(bars)
	if fallback {
		zap.L().Warn("artfight: standings bars matched no configured team color, using positional assignment",
			zap.String("bar0_color", bars[0].color),
			zap.String("bar1_color", bars[1].color),
		)
	}

	standing := &model.Standing{
		Team1Percentage: team1Pct,
		FetchedAt:       time.Now().UTC(),
		ColorFallback:   fallback,
	}
	c.parseTeamMetrics(doc, standing)
	return standing, nil
}

// collectBars reads color and width from each bar of the first progress
// widget. Bars without a readable width are dropped.
func collectBars(doc *goquery.Document) []progressBar {
	var bars []progressBar
	doc.Find("div.progress").First().Find("div.progress-bar").Each(func(_ int, sel *goquery.Selection) {
		style := sel.AttrOr("style", "")

		var width float64
		var ok bool
		if m := styleWidthRe.FindStringSubmatch(style); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				width, ok = v, true
			}
		}
		if !ok {
			// The label text carries the same number when the style is
			// missing it.
			if m := floatRe.FindString(strings.TrimSpace(sel.Text())); m != "" {
				if v, err := strconv.ParseFloat(m, 64); err == nil {
					width, ok = v, true
				}
			}
		}
		if !ok {
			return
		}

		color := ""
		if m := styleColorRe.FindStringSubmatch(style); m != nil {
			color = strings.TrimSpace(m[1])
		}
		bars = append(bars, progressBar{color: color, width: width})
	})
	return bars
}

// resolveTeam1Percentage assigns bars to teams by color and returns team1's
// share. Resolution is ranked: exact hex match, nearest color within
// tolerance, then positional assignment (first bar = team1) with the
// fallback flag raised — positional order is known to be unreliable if the
// origin ever swaps the bars, so the flag is surfaced on the snapshot.
func (c *Client) resolveTeam1Percentage(bars []progressBar) (float64, bool) {
	if !c.teams.Configured() {
		return bars[0].width, true
	}

	ref1, ok1 := parseColor(c.teams.Team1.Color)
	ref2, ok2 := parseColor(c.teams.Team2.Color)
	if !ok1 || !ok2 {
		return bars[0].width, true
	}

	var team1, team2 *float64
	for i := range bars {
		switch matchTeam(bars[i].color, ref1, ref2, c.teams.ColorTolerance) {
		case 1:
			team1 = &bars[i].width
		case 2:
			team2 = &bars[i].width
		}
	}

	if team1 != nil {
		return *team1, false
	}
	if team2 != nil {
		return 100 - *team2, false
	}
	return bars[0].width, true
}

// metricLabels maps the <small> label text of a team card row to the
// destination field.
var metricLabels = []struct {
	label   string
	integer bool
	assign  func(*model.TeamMetrics, float64)
}{
	{"friendly fire", true, func(m *model.TeamMetrics, v float64) { n := int(v); m.FriendlyFire = &n }},
	{"average points", false, func(m *model.TeamMetrics, v float64) { m.AvgPoints = &v }},
	{"average attacks", false, func(m *model.TeamMetrics, v float64) { m.AvgAttacks = &v }},
	{"battle ratio", false, func(m *model.TeamMetrics, v float64) { m.BattleRatio = &v }},
	{"users", true, func(m *model.TeamMetrics, v float64) { n := int(v); m.Users = &n }},
	{"attacks", true, func(m *model.TeamMetrics, v float64) { n := int(v); m.Attacks = &n }},
}

// parseTeamMetrics fills the supplementary per-team numbers from the event
// page's team cards. Every failure here is soft.
func (c *Client) parseTeamMetrics(doc *goquery.Document, standing *model.Standing) {
	doc.Find("div.col-md-6").Each(func(_ int, card *goquery.Selection) {
		header := card.Find("div.card div.card-header a").First()
		name := strings.ToLower(strings.TrimSpace(header.Text()))
		if name == "" {
			return
		}

		var dest *model.TeamMetrics
		switch {
		case c.teams.Team1.Name != "" && strings.Contains(name, strings.ToLower(c.teams.Team1.Name)):
			dest = &standing.Team1
		case c.teams.Team2.Name != "" && strings.Contains(name, strings.ToLower(c.teams.Team2.Name)):
			dest = &standing.Team2
		default:
			return
		}

		card.Find("div.card-body h4").Each(func(_ int, h4 *goquery.Selection) {
			small := h4.Find("small").First()
			if small.Length() == 0 {
				return
			}
			label := strings.ToLower(strings.TrimSpace(small.Text()))
			number := strings.TrimSpace(strings.Replace(h4.Text(), small.Text(), "", 1))
			number = strings.ReplaceAll(number, ",", "")

			for _, ml := range metricLabels {
				if !strings.Contains(label, ml.label) {
					continue
				}
				re := floatRe
				if ml.integer {
					re = intRe
				}
				if m := re.FindString(number); m != "" {
					if v, err := strconv.ParseFloat(m, 64); err == nil {
						ml.assign(dest, v)
					}
				}
				break
			}
		})
	})
}
