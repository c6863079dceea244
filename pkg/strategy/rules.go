package strategy

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

type Rules []Rule

// Rule pins matching requests to a strategy, overriding the built-in
// decision order. All set matchers must match for the rule to apply.
type Rule struct {
	Prefix      string            `yaml:"prefix"`
	Path        string            `yaml:"path"`
	Method      string            `yaml:"method"`
	Destination string            `yaml:"destination"`
	Query       map[string]string `yaml:"query"`
	Strategy    Strategy          `yaml:"strategy"`
}

func (r Rules) find(req *http.Request) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", req.Method, req.URL.Path)
rulesLoop:
	for _, rule := range r {
		log.Trace().Msgf("Checking rule %+v", rule)
		if rule.Method == "" && req.Method != http.MethodGet {
			continue
		}
		if rule.Method != "" && rule.Method != req.Method {
			continue
		}
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if rule.Destination != "" && rule.Destination != Destination(req) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		if !rule.Strategy.Valid() {
			log.Warn().Msgf("Unknown strategy in rule: %s", rule.Strategy)
			continue
		}
		return &rule
	}
	return nil
}
