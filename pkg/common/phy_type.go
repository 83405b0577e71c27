// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "fmt"

type PhyType int

const (
	NA      PhyType = 0
	BOOL    PhyType = 1
	INT32   PhyType = 7
	UINT64  PhyType = 8
	INT64   PhyType = 9
	DOUBLE  PhyType = 12
	VARCHAR PhyType = 200
	DECIMAL PhyType = 209

	INVALID PhyType = 255
)

const (
	BoolSize    = 1
	Int32Size   = 4
	Int64Size   = 8
	DecimalSize = 16
	//string header. payload counted separately
	VarcharSize = 16
)

var pTypeToStr = map[PhyType]string{
	NA:      "NA",
	BOOL:    "BOOL",
	INT32:   "INT32",
	UINT64:  "UINT64",
	INT64:   "INT64",
	DOUBLE:  "DOUBLE",
	VARCHAR: "VARCHAR",
	DECIMAL: "DECIMAL",
	INVALID: "INVALID",
}

func (pt PhyType) String() string {
	if s, has := pTypeToStr[pt]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", pt))
}

func (pt PhyType) Size() int {
	switch pt {
	case BOOL:
		return BoolSize
	case INT32:
		return Int32Size
	case INT64, UINT64, DOUBLE:
		return Int64Size
	case DECIMAL:
		return DecimalSize
	case VARCHAR:
		return VarcharSize
	default:
		panic("usp")
	}
}

// IsConstant reports a fixed per-row byte size.
func (pt PhyType) IsConstant() bool {
	return pt >= BOOL && pt <= DOUBLE || pt == DECIMAL
}
