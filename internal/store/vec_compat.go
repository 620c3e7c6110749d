package store

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"

	sqlite "modernc.org/sqlite"
	"modernc.org/sqlite/vtab"
)

func init() {
	// Register sqlite-vec compat: vec0 virtual table + vector_distance_cos function.
	registerVecCompat()
}

// registerVecCompat installs the vec0 virtual table module, used only for
// Store.Open's capability probe, and the vector_distance_cos scalar
// function, which memory.Repository.SearchVector calls directly against
// the memories table to rank recall candidates in SQL instead of pulling
// every row into Go.
func registerVecCompat() {
	_ = vtab.RegisterModule(nil, "vec0", &vecModule{})
	// Deterministic: same input blobs produce the same distance.
	_ = sqlite.RegisterDeterministicScalarFunction("vector_distance_cos", 2, vecDistanceCos)
}

// vecModule implements vec0 as an empty, read-only virtual table.
// Store.Open uses it only to probe whether this sqlite build can register
// vec0 at all (CREATE VIRTUAL TABLE then DROP TABLE, never INSERT or
// SELECT); the kernel's real vector ranking runs vector_distance_cos
// directly against the memories table's embedding column instead, so this
// module never needs to hold rows.
type vecModule struct{}

func (m *vecModule) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

func (m *vecModule) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, args)
}

func (m *vecModule) connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("vec0: insufficient args")
	}
	if err := ctx.Declare("CREATE TABLE x(embedding BLOB, memory_id TEXT, kind TEXT)"); err != nil {
		return nil, err
	}
	return &vecTable{}, nil
}

// vecTable is always empty; nothing ever inserts into it, so the only
// methods sqlite needs are the read path it walks on a SELECT/DROP.
type vecTable struct{}

func (t *vecTable) BestIndex(info *vtab.IndexInfo) error {
	info.EstimatedRows = 0
	return nil
}

func (t *vecTable) Open() (vtab.Cursor, error) {
	return &vecCursor{}, nil
}

func (t *vecTable) Disconnect() error { return nil }
func (t *vecTable) Destroy() error    { return nil }

// vecCursor always reports an empty result set.
type vecCursor struct{}

func (c *vecCursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error { return nil }
func (c *vecCursor) Next() error                                              { return nil }
func (c *vecCursor) Eof() bool                                                { return true }

func (c *vecCursor) Column(col int) (vtab.Value, error) {
	return nil, fmt.Errorf("vec0: probe table has no rows")
}

func (c *vecCursor) Rowid() (int64, error) {
	return 0, fmt.Errorf("vec0: probe table has no rows")
}

func (c *vecCursor) Close() error { return nil }

// vector_distance_cos implementation
func vecDistanceCos(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vector_distance_cos expects 2 arguments")
	}
	a, err := decodeFloat32(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeFloat32(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return float64(1), nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vector_distance_cos: dimension mismatch %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		af := float64(a[i])
		bf := float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return float64(1), nil
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float64(1 - cos), nil
}

// decodeFloat32 converts supported driver.Value types into a float32 slice.
func decodeFloat32(v driver.Value) ([]float32, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case []byte:
		if len(x)%4 != 0 {
			return nil, fmt.Errorf("vector_distance_cos: blob length %d not multiple of 4", len(x))
		}
		out := make([]float32, len(x)/4)
		for i := 0; i < len(out); i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(x[i*4:]))
		}
		return out, nil
	case string:
		// treat as raw bytes
		return decodeFloat32([]byte(x))
	case []float32:
		return x, nil
	case []float64:
		out := make([]float32, len(x))
		for i, f := range x {
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("vector_distance_cos: unsupported type %T", v)
	}
}
