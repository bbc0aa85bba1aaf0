package classify

import (
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Script is a Lua classification hook. The script must define a global
// function classify(tags) returning a category string, or nil to keep the
// default.
type Script struct {
	L  *lua.LState
	fn lua.LValue
	mu sync.Mutex
}

// LoadScript loads a classification script from a file
func LoadScript(path string) (*Script, error) {
	s := newScript()
	if err := s.L.DoFile(path); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load Lua file: %w", err)
	}
	return s.bind()
}

// LoadScriptString loads a classification script from source
func LoadScriptString(code string) (*Script, error) {
	s := newScript()
	if err := s.L.DoString(code); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load Lua code: %w", err)
	}
	return s.bind()
}

func newScript() *Script {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	return &Script{L: L}
}

func (s *Script) bind() (*Script, error) {
	fn := s.L.GetGlobal("classify")
	if fn.Type() != lua.LTFunction {
		s.Close()
		return nil, fmt.Errorf("script does not define a classify(tags) function")
	}
	s.fn = fn
	return s, nil
}

// Classify calls the script's classify function with the feature tags
func (s *Script) Classify(tags map[string]string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	L := s.L
	tbl := L.NewTable()
	// Stable insertion order keeps pairs() iteration reproducible
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tbl.RawSetString(k, lua.LString(tags[k]))
	}

	if err := L.CallByParam(lua.P{
		Fn:      s.fn,
		NRet:    1,
		Protect: true,
	}, tbl); err != nil {
		return "", false, fmt.Errorf("lua classify error: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case lua.LString:
		return string(v), true, nil
	case *lua.LNilType:
		return "", false, nil
	case lua.LBool:
		if !bool(v) {
			return "", false, nil
		}
	}
	return "", false, fmt.Errorf("classify returned %s, want string or nil", ret.Type())
}

// Close releases Lua resources
func (s *Script) Close() {
	s.L.Close()
}
