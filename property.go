package exchange

// PropertyKey names a well-known exchange property. Well-known properties
// live in a fixed array on the exchange; everything else goes to a map.
type PropertyKey int

const (
	PropertyCorrelationID PropertyKey = iota
	PropertyToEndpoint
	PropertyFailureEndpoint
	PropertyFailureHandled
	PropertyErrorHandlerHandled
	PropertyRedeliveryCounter
	PropertyRedeliveryExhausted
	PropertyRollbackOnly
	PropertyInterrupted
	PropertyBatchIndex
	PropertyBatchSize
	PropertyMulticastIndex
	PropertyStepID
	propertyKeyCount
)

var propertyKeyNames = [propertyKeyCount]string{
	PropertyCorrelationID:       "CorrelationId",
	PropertyToEndpoint:          "ToEndpoint",
	PropertyFailureEndpoint:     "FailureEndpoint",
	PropertyFailureHandled:      "FailureHandled",
	PropertyErrorHandlerHandled: "ErrorHandlerHandled",
	PropertyRedeliveryCounter:   "RedeliveryCounter",
	PropertyRedeliveryExhausted: "RedeliveryExhausted",
	PropertyRollbackOnly:        "RollbackOnly",
	PropertyInterrupted:         "Interrupted",
	PropertyBatchIndex:          "BatchIndex",
	PropertyBatchSize:           "BatchSize",
	PropertyMulticastIndex:      "MulticastIndex",
	PropertyStepID:              "StepId",
}

func (k PropertyKey) String() string {
	if !k.valid() {
		return "Unknown"
	}
	return propertyKeyNames[k]
}

func (k PropertyKey) valid() bool {
	return k >= 0 && k < propertyKeyCount
}

// LookupPropertyKey maps a name back to its well-known key.
func LookupPropertyKey(name string) (PropertyKey, bool) {
	for i, n := range propertyKeyNames {
		if n == name {
			return PropertyKey(i), true
		}
	}
	return 0, false
}

type properties struct {
	known    [propertyKeyCount]any
	set      [propertyKeyCount]bool
	overflow map[string]any
}

func (p *properties) get(key PropertyKey) (any, bool) {
	if !key.valid() || !p.set[key] {
		return nil, false
	}
	return p.known[key], true
}

func (p *properties) put(key PropertyKey, value any) {
	if !key.valid() {
		return
	}
	p.known[key] = value
	p.set[key] = true
}

func (p *properties) remove(key PropertyKey) {
	if !key.valid() {
		return
	}
	p.known[key] = nil
	p.set[key] = false
}

func (p *properties) getNamed(name string) (any, bool) {
	if key, ok := LookupPropertyKey(name); ok {
		return p.get(key)
	}
	v, ok := p.overflow[name]
	return v, ok
}

func (p *properties) putNamed(name string, value any) {
	if key, ok := LookupPropertyKey(name); ok {
		p.put(key, value)
		return
	}
	if p.overflow == nil {
		p.overflow = make(map[string]any)
	}
	p.overflow[name] = value
}

func (p *properties) removeNamed(name string) {
	if key, ok := LookupPropertyKey(name); ok {
		p.remove(key)
		return
	}
	delete(p.overflow, name)
}

func (p *properties) len() int {
	n := len(p.overflow)
	for _, ok := range p.set {
		if ok {
			n++
		}
	}
	return n
}

func (p *properties) snapshot() map[string]any {
	out := make(map[string]any, p.len())
	for i, ok := range p.set {
		if ok {
			out[propertyKeyNames[i]] = p.known[i]
		}
	}
	for k, v := range p.overflow {
		out[k] = v
	}
	return out
}

func (p *properties) clone() properties {
	cp := properties{known: p.known, set: p.set}
	if len(p.overflow) > 0 {
		cp.overflow = make(map[string]any, len(p.overflow))
		for k, v := range p.overflow {
			cp.overflow[k] = v
		}
	}
	return cp
}

func (p *properties) clear() {
	*p = properties{}
}
