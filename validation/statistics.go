package validation

import (
	"regexp"
	"strings"
)

const numberWord = `(?:\d+(?:[.,]\d+)?|one|two|three|four|five|six|seven|eight|nine|ten|twenty|fifty|hundred|thousand|million)`

var (
	percentRe    = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s?(?:%|percent\b|per\s+cent\b)`)
	xInYRe       = regexp.MustCompile(`(?i)\b` + numberWord + `\s+(?:in|out\s+of)\s+(?:a\s+|every\s+)?` + numberWord + `\b`)
	oddsRe       = regexp.MustCompile(`(?i)\b(?:odds|probability|chance|likelihood|risk)\s+(?:of\s+|is\s+)?(?:about\s+|roughly\s+|around\s+)?(?:\d|one\b|two\b|three\b)`)
	fractionRe   = regexp.MustCompile(`(?:^|[^\d.])0?\.\d+\b`)
	pValueRe     = regexp.MustCompile(`(?i)\bp\s*[<=>]\s*0?\.\d+`)
	acronymRe    = regexp.MustCompile(`\b(?:QALYs?|DALYs?|NNTs?|NNHs?|ARR|RRR)\b`)
	spelledOutRe = regexp.MustCompile(`(?i)\b(?:(?:quality|disability)[\s-]adjusted\s+life[\s-]years?|number\s+needed\s+to\s+(?:treat|harm)|(?:absolute|relative)\s+risk\s+reduction)\b`)

	oddsToRe       = regexp.MustCompile(`(?i)\b(?:odds|chances?)\b(?:\s+\w+){0,3}?\s+` + numberWord + `\s+to\s+` + numberWord + `\b`)
	toOddsRe       = regexp.MustCompile(`(?i)\b` + numberWord + `[\s-]+to[\s-]+` + numberWord + `\s+(?:odds|against|in\s+favou?r)\b`)
	wordFractionRe = regexp.MustCompile(`(?i)\b(?:one|two|three|four|five|six|seven|eight|nine)[\s-](?:halves|half|thirds?|quarters?|fourths?|fifths?|sixths?|eighths?|tenths?)\b`)

	// ratioRe captures a trailing am/pm so clock times can be told apart.
	ratioRe = regexp.MustCompile(`(?i)\b\d+\s?:\s?\d+\b(\s*[ap]\.?m\b)?`)

	// slashRe captures the text around a slash fraction so dates and blood
	// pressures can be told apart.
	slashRe = regexp.MustCompile(`(?i)((?:pressure|bp)\s+(?:of\s+|is\s+|was\s+)?)?(\d*/)?\b(\d+\s?/\s?\d+)\b(/\d*|\s*mm\s?hg)?`)
)

// statisticPatterns are checked in order; each match is labelled with its kind.
var statisticPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"percentage", percentRe},
	{"x in y", xInYRe},
	{"odds", oddsRe},
	{"odds", oddsToRe},
	{"odds", toOddsRe},
	{"fraction", wordFractionRe},
	{"p-value", pValueRe},
	{"decimal probability", fractionRe},
	{"statistical acronym", acronymRe},
	{"statistical measure", spelledOutRe},
}

// FindStatistics returns the numeric-probability tokens found in text, each
// rendered as "kind: match".
func FindStatistics(text string) []string {
	var hits []string
	for _, p := range statisticPatterns {
		for _, m := range p.re.FindAllString(text, -1) {
			hits = append(hits, p.name+": "+strings.TrimSpace(m))
		}
	}
	for _, m := range ratioRe.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			continue
		}
		hits = append(hits, "ratio: "+strings.TrimSpace(m[0]))
	}
	for _, m := range slashRe.FindAllStringSubmatch(text, -1) {
		if m[1] != "" || m[2] != "" || m[4] != "" {
			continue
		}
		hits = append(hits, "fraction: "+strings.TrimSpace(m[3]))
	}
	return hits
}
