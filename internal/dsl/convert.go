package dsl

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

var (
	screenComment = regexp.MustCompile(`^//\s*(.+)$`)
	gotoCall      = regexp.MustCompile(`goto\(\s*['"]([^'"]+)['"]`)
	textboxRole   = regexp.MustCompile(`getByRole\(\s*['"]textbox['"]`)
)

// ConvertResult is a converted scenario plus the lines that were skipped.
type ConvertResult struct {
	Scenario schemas.Scenario
	Skipped  []string
}

// ConvertScript turns a recorded browser script into a scenario.
//
// A `// Name` comment opens a screen, the first goto() supplies the start URL,
// clicks and presses on textboxes are dropped, and a click repeating the
// previous click's name replaces it. Every kept action gets structured fields
// and an inferred behavior hint.
func ConvertScript(name, script string) (ConvertResult, error) {
	res := ConvertResult{Scenario: schemas.Scenario{Name: name}}
	var current *schemas.Screen

	scanner := bufio.NewScanner(strings.NewReader(script))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := screenComment.FindStringSubmatch(line); m != nil {
			res.Scenario.Screens = append(res.Scenario.Screens, schemas.Screen{ScreenName: strings.TrimSpace(m[1])})
			current = &res.Scenario.Screens[len(res.Scenario.Screens)-1]
			continue
		}

		if m := gotoCall.FindStringSubmatch(line); m != nil {
			if res.Scenario.StartURL == "" {
				res.Scenario.StartURL = m[1]
			}
			continue
		}

		raw := strings.TrimSuffix(strings.TrimPrefix(line, "await "), ";")
		raw = strings.TrimPrefix(raw, "page.")

		if !strings.HasPrefix(raw, "expect(") && !strings.HasPrefix(raw, "getBy") && !strings.HasPrefix(raw, "locator(") {
			res.Skipped = append(res.Skipped, line)
			continue
		}
		if textboxRole.MatchString(raw) && !strings.Contains(raw, ".fill(") &&
			(strings.Contains(raw, ".click(") || strings.Contains(raw, ".press(")) {
			res.Skipped = append(res.Skipped, line)
			continue
		}
		if current == nil {
			res.Skipped = append(res.Skipped, line)
			continue
		}

		action, err := Parse(raw)
		if err != nil {
			res.Skipped = append(res.Skipped, line)
			continue
		}
		hint, verb := InferHint(action)
		action.BehaviorHint, action.ActionVerb = hint, verb

		if n := len(current.Actions); n > 0 {
			last := current.Actions[n-1]
			if last.ActionVerb == schemas.VerbClick && action.Params.Name != "" && last.Params.Name == action.Params.Name {
				current.Actions = current.Actions[:n-1]
			}
		}
		current.Actions = append(current.Actions, action)
	}
	if err := scanner.Err(); err != nil {
		return ConvertResult{}, fmt.Errorf("failed to read script: %w", err)
	}
	if len(res.Scenario.Screens) == 0 {
		return ConvertResult{}, fmt.Errorf("script has no screen comments")
	}
	return res, nil
}
