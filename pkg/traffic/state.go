/*
Copyright 2025 The RoutePilot authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package traffic

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	serving "knative.dev/serving/pkg/apis/serving/v1"
)

// Row is one editable entry of a service's traffic split: a pinned revision
// or the floating latest bucket, with the percent and tags assigned to it.
type Row struct {
	// RevisionName pins the row to one revision. Empty when Latest is set.
	RevisionName string `json:"revisionName,omitempty"`
	// Latest routes the row's share to whatever revision is newest.
	Latest  bool     `json:"latest,omitempty"`
	Percent int64    `json:"percent"`
	Tags    []string `json:"tags,omitempty"`
	// PendingTag holds a tag typed into the editor but not confirmed yet.
	PendingTag string `json:"pendingTag,omitempty"`
}

func (r Row) label() string {
	if r.Latest {
		return "latest revision"
	}
	return fmt.Sprintf("revision %s", r.RevisionName)
}

// State is a service's traffic split as edited in the console. The engine
// keeps no copy between calls: the caller owns the value and hands it back
// on save, so concurrent editors overwrite each other last writer wins.
type State struct {
	Rows []Row `json:"rows"`
}

// FromService folds the traffic block of a service spec into editable rows.
// Entries pointing at the same destination collapse into one row with their
// percents summed and tags merged, so the console shows one line per
// destination no matter how the stored block is factored.
func FromService(service *serving.Service) *State {
	if len(service.Spec.Traffic) == 0 {
		// An absent block means all traffic follows the latest revision.
		return &State{Rows: []Row{{Latest: true, Percent: 100}}}
	}

	index := map[string]int{}
	state := &State{}
	for _, target := range service.Spec.Traffic {
		// Entries without a pinned revision follow the latest one whether
		// or not the latestRevision flag is spelled out.
		latest := target.RevisionName == ""
		key := target.RevisionName
		if latest {
			key = "@latest"
		}
		i, ok := index[key]
		if !ok {
			i = len(state.Rows)
			index[key] = i
			state.Rows = append(state.Rows, Row{
				RevisionName: target.RevisionName,
				Latest:       latest,
			})
		}
		if target.Percent != nil {
			state.Rows[i].Percent += *target.Percent
		}
		if target.Tag != "" && !slices.Contains(state.Rows[i].Tags, target.Tag) {
			state.Rows[i].Tags = append(state.Rows[i].Tags, target.Tag)
		}
	}
	return state
}

// Targets serializes the rows back into the form stored on the service
// spec. Each weighted row becomes one untagged entry and each tag becomes
// its own zero percent entry, which is the factoring the serving controller
// normalizes splits to.
func (s *State) Targets() []serving.TrafficTarget {
	var targets []serving.TrafficTarget
	for _, row := range s.Rows {
		if row.Percent > 0 {
			targets = append(targets, newTarget(row, row.Percent, ""))
		}
		for _, tag := range row.Tags {
			targets = append(targets, newTarget(row, 0, tag))
		}
	}
	return targets
}

func newTarget(row Row, percent int64, tag string) serving.TrafficTarget {
	target := serving.TrafficTarget{
		Tag:     tag,
		Percent: &percent,
	}
	if row.Latest {
		latestRevision := true
		target.LatestRevision = &latestRevision
	} else {
		target.RevisionName = row.RevisionName
	}
	return target
}

// Validate checks the invariants the serving controller would enforce so
// the console can refuse a bad split before it reaches the cluster. All
// violations are reported together, not just the first one.
func (s *State) Validate() error {
	var result *multierror.Error
	total := int64(0)
	latestRows := 0
	tagOwners := map[string]string{}

	for _, row := range s.Rows {
		label := row.label()
		if row.Percent < 0 || row.Percent > 100 {
			result = multierror.Append(result,
				fmt.Errorf("%s: traffic percent %d must be between 0 and 100", label, row.Percent))
		}
		total += row.Percent
		if row.Latest {
			latestRows++
		}
		for _, tag := range row.Tags {
			if owner, ok := tagOwners[tag]; ok {
				result = multierror.Append(result,
					fmt.Errorf("tag %q is assigned to both %s and %s", tag, owner, label))
				continue
			}
			tagOwners[tag] = label
		}
		if pending := strings.TrimSpace(row.PendingTag); pending != "" {
			result = multierror.Append(result,
				fmt.Errorf("%s: tag %q has not been confirmed", label, pending))
		}
	}

	if total != 100 {
		result = multierror.Append(result,
			fmt.Errorf("traffic percents must add up to 100, got %d", total))
	}
	if latestRows > 1 {
		result = multierror.Append(result,
			fmt.Errorf("only one row may follow the latest revision"))
	}
	return result.ErrorOrNil()
}

// withPendingCommitted returns a copy of the state with every uncommitted
// tag fragment folded into its row, as if the user had confirmed it.
func (s *State) withPendingCommitted() *State {
	out := &State{Rows: make([]Row, len(s.Rows))}
	copy(out.Rows, s.Rows)
	for i := range out.Rows {
		pending := strings.TrimSpace(out.Rows[i].PendingTag)
		out.Rows[i].PendingTag = ""
		if pending == "" {
			continue
		}
		tags := slices.Clone(out.Rows[i].Tags)
		if !slices.Contains(tags, pending) {
			tags = append(tags, pending)
		}
		out.Rows[i].Tags = tags
	}
	return out
}
