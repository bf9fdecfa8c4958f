package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/qmuntal/gltf"
)

// vrmAliases maps VRM 0.x preset names onto engine channels.
var vrmAliases = map[string]avatar.Channel{
	"joy":    avatar.ChannelHappy,
	"sorrow": avatar.ChannelSad,
	"a":      avatar.ChannelAA,
	"i":      avatar.ChannelIH,
	"u":      avatar.ChannelOU,
	"e":      avatar.ChannelEE,
	"o":      avatar.ChannelOH,
}

// ModelReport summarises the expression targets an avatar model exposes and
// how they line up with the engine's channel set.
type ModelReport struct {
	Path         string           `json:"path"`
	Meshes       int              `json:"meshes"`
	MorphTargets []string         `json:"morph_targets"`
	Expressions  []string         `json:"expressions"`
	Supported    []avatar.Channel `json:"supported"`
	Missing      []avatar.Channel `json:"missing"`
}

// Complete reports whether every engine channel has a target on the model.
func (r *ModelReport) Complete() bool {
	return len(r.Missing) == 0
}

// InspectModel opens a glTF/GLB/VRM file and reports which engine channels
// it can render.
func InspectModel(path string) (*ModelReport, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	report := Inspect(doc)
	report.Path = path
	return report, nil
}

// Inspect reports on an already loaded document.
func Inspect(doc *gltf.Document) *ModelReport {
	report := &ModelReport{Meshes: len(doc.Meshes)}
	names := make(map[string]bool)

	for _, mesh := range doc.Meshes {
		extras, ok := mesh.Extras.(map[string]any)
		if !ok {
			continue
		}
		targetNames, ok := extras["targetNames"].([]any)
		if !ok {
			continue
		}
		for _, n := range targetNames {
			if s, ok := n.(string); ok && !names[s] {
				names[s] = true
				report.MorphTargets = append(report.MorphTargets, s)
			}
		}
	}

	report.Expressions = vrmExpressions(doc.Extensions)

	available := make(map[avatar.Channel]bool)
	for _, n := range append(append([]string{}, report.MorphTargets...), report.Expressions...) {
		if c, ok := channelFor(n); ok {
			available[c] = true
		}
	}
	for _, c := range avatar.AllChannels {
		if available[c] {
			report.Supported = append(report.Supported, c)
		} else {
			report.Missing = append(report.Missing, c)
		}
	}
	return report
}

func channelFor(name string) (avatar.Channel, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if c, err := avatar.ParseChannel(n); err == nil {
		return c, true
	}
	c, ok := vrmAliases[n]
	return c, ok
}

type vrm0Extension struct {
	BlendShapeMaster struct {
		BlendShapeGroups []struct {
			Name       string `json:"name"`
			PresetName string `json:"presetName"`
		} `json:"blendShapeGroups"`
	} `json:"blendShapeMaster"`
}

type vrm1Extension struct {
	Expressions struct {
		Preset map[string]json.RawMessage `json:"preset"`
		Custom map[string]json.RawMessage `json:"custom"`
	} `json:"expressions"`
}

// vrmExpressions collects expression names from VRM 0.x ("VRM") and VRM 1.0
// ("VRMC_vrm") extensions. Unregistered extensions arrive either as raw JSON
// or as decoded maps depending on how the document was built.
func vrmExpressions(ext gltf.Extensions) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && s != "unknown" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	var v0 vrm0Extension
	if decodeExtension(ext, "VRM", &v0) {
		for _, g := range v0.BlendShapeMaster.BlendShapeGroups {
			add(g.PresetName)
			add(g.Name)
		}
	}

	var v1 vrm1Extension
	if decodeExtension(ext, "VRMC_vrm", &v1) {
		for _, group := range []map[string]json.RawMessage{v1.Expressions.Preset, v1.Expressions.Custom} {
			keys := make([]string, 0, len(group))
			for k := range group {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				add(k)
			}
		}
	}
	return out
}

func decodeExtension(ext gltf.Extensions, name string, into any) bool {
	raw, ok := ext[name]
	if !ok {
		return false
	}
	var data []byte
	switch v := raw.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return false
		}
	}
	return json.Unmarshal(data, into) == nil
}
