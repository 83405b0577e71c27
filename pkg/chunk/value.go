package chunk

import (
	"fmt"

	"github.com/govalues/decimal"

	"github.com/daviszhen/joinexec/pkg/common"
)

type Value struct {
	Typ    common.LType
	IsNull bool
	Bool   bool
	I32    int32
	I64    int64
	U64    uint64
	F64    float64
	Str    string
	Dec    decimal.Decimal
}

func NullValue(typ common.LType) *Value {
	return &Value{Typ: typ, IsNull: true}
}

func BoolValue(b bool) *Value {
	return &Value{Typ: common.BooleanType(), Bool: b}
}

func Int32Value(v int32) *Value {
	return &Value{Typ: common.IntegerType(), I32: v}
}

func Int64Value(v int64) *Value {
	return &Value{Typ: common.BigintType(), I64: v}
}

func Uint64Value(v uint64) *Value {
	return &Value{Typ: common.UbigintType(), U64: v}
}

func Float64Value(v float64) *Value {
	return &Value{Typ: common.DoubleType(), F64: v}
}

func StrValue(s string) *Value {
	return &Value{Typ: common.VarcharType(), Str: s}
}

func DecValue(d decimal.Decimal, width, scale int) *Value {
	return &Value{Typ: common.DecimalType(width, scale), Dec: d}
}

func (val *Value) String() string {
	if val.IsNull {
		return "NULL"
	}
	switch val.Typ.GetInternalType() {
	case common.BOOL:
		return fmt.Sprintf("%t", val.Bool)
	case common.INT32:
		return fmt.Sprintf("%d", val.I32)
	case common.INT64:
		return fmt.Sprintf("%d", val.I64)
	case common.UINT64:
		return fmt.Sprintf("%d", val.U64)
	case common.DOUBLE:
		return fmt.Sprintf("%g", val.F64)
	case common.VARCHAR:
		return val.Str
	case common.DECIMAL:
		return val.Dec.String()
	}
	panic("usp value type")
}
