package alerts

import (
	"fmt"
	"sort"
	"strings"
)

// StartedMessage describes the quoting targets at startup.
func StartedMessage(targets map[string][]string, active bool) string {
	sites := make([]string, 0, len(targets))
	for site := range targets {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	pairs := make([]string, 0, len(targets))
	for _, site := range sites {
		for _, instrument := range targets[site] {
			pairs = append(pairs, site+":"+instrument)
		}
	}
	mode := "active"
	if !active {
		mode = "inactive"
	}
	return fmt.Sprintf("mm-quote-bot started (%s): %s", mode, strings.Join(pairs, ", "))
}

// StoppedMessage reports shutdown and its cause, if any.
func StoppedMessage(err error) string {
	if err == nil {
		return "mm-quote-bot stopped"
	}
	return fmt.Sprintf("mm-quote-bot stopped: %v", err)
}
