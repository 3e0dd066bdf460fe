package nut

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSampleDelay is the pause between the two discovery snapshots.
const DefaultSampleDelay = 700 * time.Millisecond

// staticHints match variables that never change at runtime: identity,
// driver metadata, and nominal ratings.
var staticHints = []*regexp.Regexp{
	regexp.MustCompile(`^device\.`),
	regexp.MustCompile(`^driver\.`),
	regexp.MustCompile(`^ups\.firmware`),
	regexp.MustCompile(`^ups\.model$`),
	regexp.MustCompile(`^ups\.mfr$`),
	regexp.MustCompile(`^ups\.serial$`),
	regexp.MustCompile(`^ups\.type$`),
	regexp.MustCompile(`\.nominal$`),
	regexp.MustCompile(`^battery\.mfr\.`),
	regexp.MustCompile(`^battery\.type$`),
}

// dynamicHints match variables known to vary during operation.
var dynamicHints = []*regexp.Regexp{
	regexp.MustCompile(`^ups\.(load|power|realpower|status|temperature|timer)`),
}

var dynamicPrefixes = []string{
	"battery.",
	"input.",
	"output.",
	"ambient.",
}

// Lister is the part of Client discovery needs; tests substitute fakes.
type Lister interface {
	ListVariables(ups string) (map[string]string, error)
}

// DiscoveryResult partitions a UPS's variables into static and dynamic
// sets. Available is always the disjoint union of Static and Dynamic.
type DiscoveryResult struct {
	Available []string
	Static    []string
	Dynamic   []string

	// StaticSnapshot holds the first sample restricted to static fields;
	// InitialDynamicSnapshot the second sample restricted to dynamic ones.
	StaticSnapshot         map[string]string
	InitialDynamicSnapshot map[string]string
}

// DiscoveryOptions tune the discovery pass.
type DiscoveryOptions struct {
	// SampleDelay is the pause between the two snapshots. Zero means the
	// 700ms default.
	SampleDelay time.Duration
}

// Discover samples the UPS variable list twice and classifies each field
// as static or dynamic. Fields matching a static hint are static; fields
// in the known-dynamic allow-list are dynamic; anything else is dynamic
// only if its value changed between the two samples. The second sample
// catches fields a particular UPS exposes as dynamic despite not matching
// any allow-list.
func Discover(ctx context.Context, lister Lister, ups string, opts DiscoveryOptions) (*DiscoveryResult, error) {
	delay := opts.SampleDelay
	if delay <= 0 {
		delay = DefaultSampleDelay
	}

	s1, err := lister.ListVariables(ups)
	if err != nil {
		return nil, err
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s2, err := lister.ListVariables(ups)
	if err != nil {
		return nil, err
	}

	res := &DiscoveryResult{
		StaticSnapshot:         make(map[string]string),
		InitialDynamicSnapshot: make(map[string]string),
	}

	for name, v1 := range s1 {
		res.Available = append(res.Available, name)
		if classifyDynamic(name, v1, s2) {
			res.Dynamic = append(res.Dynamic, name)
			if v2, ok := s2[name]; ok {
				res.InitialDynamicSnapshot[name] = v2
			} else {
				res.InitialDynamicSnapshot[name] = v1
			}
		} else {
			res.Static = append(res.Static, name)
			res.StaticSnapshot[name] = v1
		}
	}

	sort.Strings(res.Available)
	sort.Strings(res.Static)
	sort.Strings(res.Dynamic)

	logrus.WithFields(logrus.Fields{
		"ups":       ups,
		"available": len(res.Available),
		"static":    len(res.Static),
		"dynamic":   len(res.Dynamic),
	}).Debug("capability discovery finished")
	return res, nil
}

func classifyDynamic(name, v1 string, s2 map[string]string) bool {
	// Static hints win over everything, so battery.mfr.date and
	// input.voltage.nominal stay static despite their prefixes.
	for _, re := range staticHints {
		if re.MatchString(name) {
			return false
		}
	}
	for _, p := range dynamicPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, re := range dynamicHints {
		if re.MatchString(name) {
			return true
		}
	}
	// Two-sample heuristic for fields outside both lists.
	if v2, ok := s2[name]; ok && v2 != v1 {
		return true
	}
	return false
}
