package commands

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Verb is a lifecycle operation understood by the child
type Verb string

const (
	VerbCreate    Verb = "create"
	VerbTrigger   Verb = "trigger"
	VerbSuspend   Verb = "suspend"
	VerbUnsuspend Verb = "unsuspend"
	VerbTerminate Verb = "terminate"
	VerbDelete    Verb = "delete"
	VerbListRuns  Verb = "list-runs"
)

// AttributeFileFlag names the flag carrying the result channel path
const AttributeFileFlag = "deployer-attribute-file"

// Options are rendered as command-line flags
type Options map[string]interface{}

// API is the command surface of one executable and flow file
type API struct {
	Executable string
	FlowFile   string
}

// Group returns the command group of a backend
func (a API) Group(topLevel Options, backendType string, deployerOpts Options) *Group {
	prefix := []string{a.Executable, "--flow-file=" + a.FlowFile}
	prefix = append(prefix, Render(topLevel)...)
	prefix = append(prefix, backendType)
	prefix = append(prefix, Render(deployerOpts)...)
	return &Group{prefix: prefix}
}

// Group is the argv prefix shared by all verbs of a backend
type Group struct {
	prefix []string
}

// Command returns the full argv of verb
func (g *Group) Command(verb Verb, opts Options) []string {
	argv := make([]string, 0, len(g.prefix)+len(opts)+1)
	argv = append(argv, g.prefix...)
	argv = append(argv, string(verb))
	argv = append(argv, Render(opts)...)
	return argv
}

// Render turns options into sorted flags
func Render(opts Options) []string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var flags []string
	for _, k := range keys {
		flags = append(flags, renderFlag(FlagName(k), opts[k])...)
	}
	return flags
}

// FlagName converts an option key to its flag spelling
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func renderFlag(name string, value interface{}) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return []string{"--" + name}
		}
		return nil
	case string:
		return []string{fmt.Sprintf("--%s=%s", name, v)}
	case []string:
		flags := make([]string, 0, len(v))
		for _, item := range v {
			flags = append(flags, fmt.Sprintf("--%s=%s", name, item))
		}
		return flags
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		flags := make([]string, 0, len(v))
		for _, k := range keys {
			flags = append(flags, fmt.Sprintf("--%s=%s=%s", name, k, v[k]))
		}
		return flags
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return renderFlag(name, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		var flags []string
		for i := 0; i < rv.Len(); i++ {
			flags = append(flags, renderFlag(name, rv.Index(i).Interface())...)
		}
		return flags
	case reflect.Map:
		m := make(map[string]string, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[fmt.Sprint(iter.Key().Interface())] = fmt.Sprint(iter.Value().Interface())
		}
		return renderFlag(name, m)
	}
	return []string{fmt.Sprintf("--%s=%v", name, value)}
}
