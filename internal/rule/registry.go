package rule

import (
	"fmt"
	"strings"
	"sync"
)

// ConditionFunc is a compiled-in condition. It must be pure: read the Env,
// return a verdict, touch nothing else. A condition string of the form
// "@name" resolves to the function registered under that name instead of
// going through the expression parser.
type ConditionFunc func(env *Env) (bool, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ConditionFunc{}
)

// Register makes fn available to rules as "@name". Registering the same name
// twice panics; it is a wiring bug, not a runtime condition.
func Register(name string, fn ConditionFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	key := strings.ToLower(name)
	if _, dup := registry[key]; dup {
		panic(fmt.Sprintf("rule: condition %q registered twice", name))
	}
	registry[key] = fn
}

func lookupCondition(name string) (ConditionFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[strings.ToLower(name)]
	return fn, ok
}
