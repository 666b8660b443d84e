// Copyright 2024 The ibkv Authors
// This file is part of ibkv.
//
// ibkv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package record implements the physical row/key format: variable-length
// records with a lazily computed offsets array, externally stored field
// references, and typed tuple read/write with InnoDB-style order-
// preserving canonicalization of signed integers and floats.
package record

// DataType is a column's storage family.
type DataType uint8

const (
	TypeInt DataType = iota // fixed-width 1/2/4/8 byte integer, Len gives width
	TypeBig                 // fixed-width big integer/DECIMAL backed by uint256, Len in {4,8,16,32}
	TypeChar                // fixed-length, space-padded
	TypeVarChar              // variable length up to Len
	TypeBlob                 // variable length, externally storable past a threshold
	TypeDouble
)

// Column describes one field's static shape, shared by every tuple
// built against the owning table or index.
type Column struct {
	Name        string
	Type        DataType
	Len         uint16 // byte width for Int/Big/Char, max length for VarChar/Blob
	Unsigned    bool
	Nullable    bool
	IsSysColumn bool
}

// externThreshold is the payload length past which a Blob field is
// stored externally: an on-page prefix plus an off-page reference,
// mirroring BTR_EXTERN_FIELD_REF's trigger in the source engine.
const externThreshold = 768
