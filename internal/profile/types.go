package profile

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Kind is the semantic scalar kind of an attribute type token.
type Kind string

const (
	KindInt      Kind = "int"
	KindDict     Kind = "dict"
	KindDatetime Kind = "datetime"
	KindStr      Kind = "str"
	KindText     Kind = "text"
	KindBool     Kind = "bool"
	KindChar     Kind = "char"
	KindLongtext Kind = "longtext"
	KindFloat    Kind = "float"
	KindBlob     Kind = "blob"
)

var kinds = map[Kind]struct{}{
	KindInt: {}, KindDict: {}, KindDatetime: {}, KindStr: {}, KindText: {},
	KindBool: {}, KindChar: {}, KindLongtext: {}, KindFloat: {}, KindBlob: {},
}

// ScalarType is the resolved form of a type token such as "str_120" or
// "float_3_1". Length and Precision are zero when the token carries no
// parameters.
type ScalarType struct {
	Kind      Kind
	Length    int
	Precision int
}

// UnknownTypeError is raised for tokens whose kind is not in the
// supported set or whose parameters do not parse.
type UnknownTypeError struct {
	Token string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown attribute type: %q", e.Token)
}

var typeCache sync.Map // token -> ScalarType

// ResolveType parses a type token following the grammar `kind`, `kind_X`
// (length) or `kind_X_Y` (length, decimal precision). Tokens are parsed
// once and cached for the process lifetime.
func ResolveType(token string) (ScalarType, error) {
	if cached, ok := typeCache.Load(token); ok {
		return cached.(ScalarType), nil
	}
	st, err := parseTypeToken(token)
	if err != nil {
		return ScalarType{}, err
	}
	typeCache.Store(token, st)
	return st, nil
}

func parseTypeToken(token string) (ScalarType, error) {
	parts := strings.Split(token, "_")
	kind := Kind(parts[0])
	if _, ok := kinds[kind]; !ok || len(parts) > 3 {
		return ScalarType{}, &UnknownTypeError{Token: token}
	}
	st := ScalarType{Kind: kind}
	if len(parts) > 1 {
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 0 {
			return ScalarType{}, &UnknownTypeError{Token: token}
		}
		st.Length = n
	}
	if len(parts) > 2 {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 0 {
			return ScalarType{}, &UnknownTypeError{Token: token}
		}
		st.Precision = n
	}
	return st, nil
}
