package federation

import (
	"sort"
	"sync"
	"time"

	"github.com/chazu/mfhost/api/v1alpha1"
)

// Export is a loaded module value
type Export struct {
	Key      Key
	Value    any
	URL      string
	LoadedAt time.Time
	Attempts int
}

// FailedLoad records an exhausted attempt sequence
type FailedLoad struct {
	Module   string    `json:"module"`
	Key      string    `json:"key"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
	Attempts int       `json:"attempts"`
}

// pendingLoad is the future shared by every caller of an in-flight load
type pendingLoad struct {
	ref      v1alpha1.ModuleReference
	attempts int
	done     chan struct{}

	export *Export
	err    error
}

func newPendingLoad(ref v1alpha1.ModuleReference, attempts int) *pendingLoad {
	return &pendingLoad{ref: ref, attempts: attempts, done: make(chan struct{})}
}

// LoaderState holds the loaded, loading and failed records. Every key is in
// at most one of them.
type LoaderState struct {
	mu      sync.Mutex
	loaded  map[Key]*Export
	loading map[Key]*pendingLoad
	failed  map[Key]FailedLoad
}

// NewLoaderState creates empty loader state
func NewLoaderState() *LoaderState {
	return &LoaderState{
		loaded:  make(map[Key]*Export),
		loading: make(map[Key]*pendingLoad),
		failed:  make(map[Key]FailedLoad),
	}
}

// counts returns the size of each map. Callers hold mu.
func (s *LoaderState) counts() (loaded, loading, failed int) {
	return len(s.loaded), len(s.loading), len(s.failed)
}

// purge removes every record whose key matches. Callers hold mu.
func (s *LoaderState) purge(match func(Key) bool) int {
	removed := 0
	for key := range s.loaded {
		if match(key) {
			delete(s.loaded, key)
			removed++
		}
	}
	for key := range s.loading {
		if match(key) {
			delete(s.loading, key)
			removed++
		}
	}
	for key := range s.failed {
		if match(key) {
			delete(s.failed, key)
			removed++
		}
	}
	return removed
}

// Stats is a snapshot of the loader state
type Stats struct {
	Loaded         int          `json:"loaded"`
	Loading        int          `json:"loading"`
	Failed         int          `json:"failed"`
	LoadedModules  []string     `json:"loadedModules"`
	LoadingModules []string     `json:"loadingModules"`
	FailedLoads    []FailedLoad `json:"failedLoads"`
}

// snapshot builds Stats. Callers hold mu.
func (s *LoaderState) snapshot() Stats {
	stats := Stats{
		Loaded:         len(s.loaded),
		Loading:        len(s.loading),
		Failed:         len(s.failed),
		LoadedModules:  make([]string, 0, len(s.loaded)),
		LoadingModules: make([]string, 0, len(s.loading)),
		FailedLoads:    make([]FailedLoad, 0, len(s.failed)),
	}
	for key := range s.loaded {
		stats.LoadedModules = append(stats.LoadedModules, key.String())
	}
	for key := range s.loading {
		stats.LoadingModules = append(stats.LoadingModules, key.String())
	}
	for _, f := range s.failed {
		stats.FailedLoads = append(stats.FailedLoads, f)
	}
	sort.Strings(stats.LoadedModules)
	sort.Strings(stats.LoadingModules)
	sort.Slice(stats.FailedLoads, func(i, j int) bool {
		return stats.FailedLoads[i].Key < stats.FailedLoads[j].Key
	})
	return stats
}
