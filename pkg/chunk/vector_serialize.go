package chunk

import (
	"github.com/govalues/decimal"

	"github.com/daviszhen/joinexec/pkg/common"
	"github.com/daviszhen/joinexec/pkg/util"
)

// Serialization methods for Vector. Only flat layout is written; the
// format is internal to spill files and not cross-version stable.
func (vec *Vector) Serialize(count int, serial util.Serialize) error {
	vec.Flatten(count)
	writeValidity := count > 0 && !vec._mask.AllValid()
	err := util.Write[bool](writeValidity, serial)
	if err != nil {
		return err
	}
	if writeValidity {
		flatMask := &util.Bitmap{}
		flatMask.Init(count)
		for i := 0; i < count; i++ {
			flatMask.Set(uint64(i), vec._mask.RowIsValid(uint64(i)))
		}
		err = serial.WriteData(flatMask.Data(), flatMask.Bytes(count))
		if err != nil {
			return err
		}
	}
	switch vec._typ.GetInternalType() {
	case common.BOOL:
		return serializeSlice[bool](vec._data.([]bool), count, serial)
	case common.INT32:
		return serializeSlice[int32](vec._data.([]int32), count, serial)
	case common.INT64:
		return serializeSlice[int64](vec._data.([]int64), count, serial)
	case common.UINT64:
		return serializeSlice[uint64](vec._data.([]uint64), count, serial)
	case common.DOUBLE:
		return serializeSlice[float64](vec._data.([]float64), count, serial)
	case common.VARCHAR:
		strSlice := vec._data.([]string)
		for i := 0; i < count; i++ {
			if err = util.WriteString(strSlice[i], serial); err != nil {
				return err
			}
		}
		return nil
	case common.DECIMAL:
		decSlice := vec._data.([]decimal.Decimal)
		for i := 0; i < count; i++ {
			s := ""
			if vec._mask.RowIsValid(uint64(i)) {
				s = decSlice[i].String()
			}
			if err = util.WriteString(s, serial); err != nil {
				return err
			}
		}
		return nil
	}
	panic("usp phy type")
}

func serializeSlice[T any](data []T, count int, serial util.Serialize) error {
	for i := 0; i < count; i++ {
		if err := util.Write[T](data[i], serial); err != nil {
			return err
		}
	}
	return nil
}

func (vec *Vector) Deserialize(count int, deserial util.Deserialize) error {
	hasValidity := false
	err := util.Read[bool](&hasValidity, deserial)
	if err != nil {
		return err
	}
	if hasValidity {
		mask := &util.Bitmap{}
		mask.Init(count)
		err = deserial.ReadData(mask.Data(), mask.Bytes(count))
		if err != nil {
			return err
		}
		flat := &util.Bitmap{}
		flat.Init(vec.Capacity())
		for i := 0; i < count; i++ {
			flat.Set(uint64(i), mask.RowIsValid(uint64(i)))
		}
		vec._mask = flat
	}
	switch vec._typ.GetInternalType() {
	case common.BOOL:
		return deserializeSlice[bool](vec._data.([]bool), count, deserial)
	case common.INT32:
		return deserializeSlice[int32](vec._data.([]int32), count, deserial)
	case common.INT64:
		return deserializeSlice[int64](vec._data.([]int64), count, deserial)
	case common.UINT64:
		return deserializeSlice[uint64](vec._data.([]uint64), count, deserial)
	case common.DOUBLE:
		return deserializeSlice[float64](vec._data.([]float64), count, deserial)
	case common.VARCHAR:
		strSlice := vec._data.([]string)
		for i := 0; i < count; i++ {
			strSlice[i], err = util.ReadString(deserial)
			if err != nil {
				return err
			}
		}
		return nil
	case common.DECIMAL:
		decSlice := vec._data.([]decimal.Decimal)
		for i := 0; i < count; i++ {
			s, rerr := util.ReadString(deserial)
			if rerr != nil {
				return rerr
			}
			if s == "" {
				continue
			}
			decSlice[i], err = decimal.Parse(s)
			if err != nil {
				return err
			}
		}
		return nil
	}
	panic("usp phy type")
}

func deserializeSlice[T any](data []T, count int, deserial util.Deserialize) error {
	for i := 0; i < count; i++ {
		if err := util.Read[T](&data[i], deserial); err != nil {
			return err
		}
	}
	return nil
}
