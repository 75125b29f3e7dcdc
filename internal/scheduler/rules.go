// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"
)

// RuleEnv is the environment a custom rule condition is evaluated against.
type RuleEnv struct {
	// ID is the candidate's intervention id (or synthesized ad-hoc id).
	ID string `expr:"id"`

	// Category is the candidate's category.
	Category string `expr:"category"`

	// Tier is the candidate's effective tier.
	Tier int `expr:"tier"`

	// Hour is the local hour of day, 0-23.
	Hour int `expr:"hour"`

	// Mode is the engine's current mode.
	Mode string `expr:"mode"`

	// State is the smoothed state vector.
	State map[string]int `expr:"state"`
}

// RuleSet holds compiled custom rule conditions. Any rule returning false
// vetoes acceptance; compile or runtime errors fail open (the rule is
// skipped with a log line) so a bad expression never blocks regulation.
type RuleSet struct {
	sources  []string
	programs map[string]*vm.Program
}

// NewRuleSet compiles the given condition strings. Conditions that fail to
// compile are dropped with an error log.
func NewRuleSet(sources []string) *RuleSet {
	rs := &RuleSet{programs: make(map[string]*vm.Program)}
	for _, src := range sources {
		if src == "" {
			continue
		}
		program, err := expr.Compile(src, expr.Env(RuleEnv{}), expr.AsBool())
		if err != nil {
			log.Errorf("Failed to compile scheduler rule %q: %v", src, err)
			continue
		}
		rs.sources = append(rs.sources, src)
		rs.programs[src] = program
	}
	return rs
}

// Allows evaluates every rule against env and reports whether all of them
// pass.
func (rs *RuleSet) Allows(env RuleEnv) bool {
	if rs == nil {
		return true
	}
	for _, src := range rs.sources {
		program := rs.programs[src]
		output, err := vm.Run(program, env)
		if err != nil {
			log.Warnf("Scheduler rule %q failed, skipping: %v", src, err)
			continue
		}
		pass, ok := output.(bool)
		if !ok {
			log.Warnf("Scheduler rule %q did not return a boolean, skipping", src)
			continue
		}
		if !pass {
			log.Debugf("Scheduler rule %q vetoed candidate %s", src, env.ID)
			return false
		}
	}
	return true
}

// Len returns the number of active rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.sources)
}

// String describes the rule set for status surfaces.
func (rs *RuleSet) String() string {
	return fmt.Sprintf("RuleSet(%d rules)", rs.Len())
}
