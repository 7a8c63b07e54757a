package component

import "math"

// Mapper converts quantities between control-plane units and backend
// units for one offering's declared component list. It is stateless and
// commutative across components — iteration order never affects results
// (spec.md §4.3).
type Mapper struct {
	components map[string]Component
	order      []string
}

// NewMapper builds a Mapper from an offering's declared components.
// Duplicate names overwrite earlier entries; callers are expected to have
// validated each Component beforehand.
func NewMapper(components []Component) *Mapper {
	m := &Mapper{components: make(map[string]Component, len(components))}
	for _, c := range components {
		if _, exists := m.components[c.Name]; !exists {
			m.order = append(m.order, c.Name)
		}
		m.components[c.Name] = c
	}
	return m
}

// ConvertLimitsToBackend expands control-plane limits into backend-unit
// values. Passthrough components multiply by unit_factor; remapping
// components expand one source value into one value per declared target,
// each scaled by that target's factor.
func (m *Mapper) ConvertLimitsToBackend(limits map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(limits))
	for name, value := range limits {
		c, ok := m.components[name]
		if !ok {
			out[name] = value
			continue
		}
		if c.remaps() {
			for _, t := range c.Targets {
				out[t.Name] += int64(math.Round(float64(value) * t.Factor))
			}
			continue
		}
		out[name] += int64(math.Round(float64(value) * c.UnitFactor))
	}
	return out
}

// ConvertLimitsToControl folds backend-unit limits back into control-plane
// units, the reverse of ConvertLimitsToBackend: passthrough components
// divide by unit_factor; remapping components sum all contributing
// targets and divide, truncating to an integer (spec.md §4.3's
// integer-truncating division, matching the original's floor `//`).
func (m *Mapper) ConvertLimitsToControl(limits map[string]int64) map[string]int64 {
	type source struct {
		name   string
		factor float64
	}
	reverse := make(map[string][]source)
	for _, name := range m.order {
		c := m.components[name]
		if c.remaps() {
			for _, t := range c.Targets {
				reverse[t.Name] = append(reverse[t.Name], source{name: name, factor: t.Factor})
			}
		}
	}

	sums := make(map[string]float64)
	for backendName, amount := range limits {
		if srcs, ok := reverse[backendName]; ok {
			for _, s := range srcs {
				sums[s.name] += float64(amount) / s.factor
			}
			continue
		}
		c, ok := m.components[backendName]
		if !ok {
			sums[backendName] += float64(amount)
			continue
		}
		sums[backendName] += float64(amount) / c.UnitFactor
	}

	out := make(map[string]int64, len(sums))
	for name, v := range sums {
		out[name] = int64(v)
	}
	return out
}

// ConvertUsageToControl folds backend-unit usage back into control-plane
// units. Passthrough components truncate-divide by unit_factor; remapping
// components sum all contributing targets' amounts, divide, and round to
// two decimals.
func (m *Mapper) ConvertUsageToControl(usage map[string]float64) map[string]float64 {
	// Build the reverse index: backend target name -> (source component, factor).
	type source struct {
		name   string
		factor float64
	}
	reverse := make(map[string][]source)
	for _, name := range m.order {
		c := m.components[name]
		if c.remaps() {
			for _, t := range c.Targets {
				reverse[t.Name] = append(reverse[t.Name], source{name: name, factor: t.Factor})
			}
		}
	}

	sums := make(map[string]float64)
	for backendName, amount := range usage {
		if srcs, ok := reverse[backendName]; ok {
			for _, s := range srcs {
				sums[s.name] += amount / s.factor
			}
			continue
		}
		c, ok := m.components[backendName]
		if !ok {
			sums[backendName] += amount
			continue
		}
		sums[backendName] += math.Trunc(amount / c.UnitFactor)
	}

	out := make(map[string]float64, len(sums))
	for name, v := range sums {
		out[name] = round2(v)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
