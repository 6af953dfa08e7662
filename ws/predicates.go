package ws

import "github.com/luciancaetano/wsmanager"

// WithMetadata selects connections whose upgrade request carried key=value in its query string.
func WithMetadata(key, value string) wsmanager.Predicate {
	return func(conn wsmanager.Connection) bool {
		for _, v := range conn.Metadata()[key] {
			if v == value {
				return true
			}
		}
		return false
	}
}

// Only selects the connections with the given ids.
func Only(ids ...string) wsmanager.Predicate {
	set := toSet(ids)
	return func(conn wsmanager.Connection) bool {
		_, ok := set[conn.ID()]
		return ok
	}
}

// Except selects every connection but the ones with the given ids.
func Except(ids ...string) wsmanager.Predicate {
	set := toSet(ids)
	return func(conn wsmanager.Connection) bool {
		_, ok := set[conn.ID()]
		return !ok
	}
}

// And selects connections matching every predicate. Nil predicates match everything.
func And(preds ...wsmanager.Predicate) wsmanager.Predicate {
	return func(conn wsmanager.Connection) bool {
		for _, p := range preds {
			if p != nil && !p(conn) {
				return false
			}
		}
		return true
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
