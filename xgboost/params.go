package xgboost

// Param is one native parameter. Values are passed to the library verbatim.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter list. Order matters: the native library
// applies them one SetParam call at a time and later values override
// earlier ones, except for keys like eval_metric that accumulate.
type Params []Param

// Get returns the last value set for key.
func (p Params) Get(key string) (string, bool) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Key == key {
			return p[i].Value, true
		}
	}
	return "", false
}

// Set replaces every value of key with value, appending when key is absent.
func (p *Params) Set(key, value string) {
	found := false
	out := (*p)[:0]
	for _, kv := range *p {
		if kv.Key == key {
			if found {
				continue
			}
			kv.Value = value
			found = true
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, Param{Key: key, Value: value})
	}
	*p = out
}

// Add appends key=value without touching earlier values.
func (p *Params) Add(key, value string) {
	*p = append(*p, Param{Key: key, Value: value})
}

// Clone returns a copy that can be modified independently.
func (p Params) Clone() Params {
	return append(Params(nil), p...)
}
