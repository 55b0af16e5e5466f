// Package partition groups a backlog into domain clusters and gates them by phase.
package partition

import (
	"fmt"
	"sort"

	"github.com/ShayCichocki/armada/pkg/models"
)

// DefaultDomain is the cluster for stories without a domain tag.
const DefaultDomain = "general"

// DefaultPhase is used for a domain none of whose stories declare a phase.
const DefaultPhase = models.PhaseFeature

// Partition validates the backlog and groups it into clusters ordered by phase, then name.
//
// On success every story's Domain and Phase are filled in: an empty domain becomes
// DefaultDomain and an empty phase inherits the domain's phase. On error the stories
// are left untouched and no clusters are returned.
func Partition(stories []*models.Story) ([]*models.DomainCluster, error) {
	byID := make(map[string]*models.Story, len(stories))
	for _, st := range stories {
		byID[st.ID] = st
	}
	for _, st := range stories {
		for _, dep := range st.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, &UnknownDependencyError{StoryID: st.ID, DependencyID: dep}
			}
		}
	}
	if cycle := findCycle(stories, byID); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	// Resolve one phase per domain.
	phases := make(map[string]models.Phase)
	declaredBy := make(map[string]string)
	var domains []string
	for _, st := range stories {
		domain := domainOf(st)
		if _, seen := phases[domain]; !seen {
			phases[domain] = ""
			domains = append(domains, domain)
		}
		if st.Phase == "" {
			continue
		}
		if !st.Phase.Valid() {
			return nil, fmt.Errorf("story %s has unknown phase %q", st.ID, st.Phase)
		}
		if cur := phases[domain]; cur == "" {
			phases[domain] = st.Phase
			declaredBy[domain] = st.ID
		} else if cur != st.Phase {
			return nil, &PhaseMismatchError{Domain: domain, StoryID: st.ID, Want: cur, Got: st.Phase}
		}
	}

	clusters := make(map[string]*models.DomainCluster, len(domains))
	for _, domain := range domains {
		phase := phases[domain]
		if phase == "" {
			phase = DefaultPhase
		}
		clusters[domain] = &models.DomainCluster{
			ID:     domain,
			Name:   domain,
			Phase:  phase,
			Status: models.ClusterStatusPending,
		}
	}
	// A dependency in a later phase could only run after its dependent's phase
	// settles, so the dependent would never become ready.
	for _, st := range stories {
		phase := clusters[domainOf(st)].Phase
		for _, dep := range st.Dependencies {
			depPhase := clusters[domainOf(byID[dep])].Phase
			if depPhase.Order() > phase.Order() {
				return nil, &PhaseOrderError{StoryID: st.ID, Phase: phase, DependencyID: dep, DependencyPhase: depPhase}
			}
		}
	}

	for _, st := range stories {
		c := clusters[domainOf(st)]
		st.Domain = c.ID
		st.Phase = c.Phase
		c.StoryIDs = append(c.StoryIDs, st.ID)
		c.TotalStories++
	}

	out := make([]*models.DomainCluster, 0, len(clusters))
	for _, domain := range domains {
		out = append(out, clusters[domain])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if oi, oj := out[i].Phase.Order(), out[j].Phase.Order(); oi != oj {
			return oi < oj
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func domainOf(st *models.Story) string {
	if st.Domain == "" {
		return DefaultDomain
	}
	return st.Domain
}

// findCycle returns the first dependency cycle found, walking stories in order.
func findCycle(stories []*models.Story, byID map[string]*models.Story) []string {
	// 0 = unvisited, 1 = on the current path, 2 = done.
	colors := make(map[string]int, len(stories))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = 1
		path = append(path, id)
		for _, dep := range byID[id].Dependencies {
			switch colors[dep] {
			case 1:
				// Back edge: the cycle is the path suffix starting at dep.
				for i, p := range path {
					if p == dep {
						cycle := append([]string(nil), path[i:]...)
						return append(cycle, dep)
					}
				}
			case 0:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		colors[id] = 2
		return nil
	}

	for _, st := range stories {
		if colors[st.ID] == 0 {
			if c := visit(st.ID); c != nil {
				return c
			}
		}
	}
	return nil
}
