package events

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/schema"
)

func TestDecodeEncode_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		dtype string
		wire  string
		want  any
	}{
		{"int32", "int32", "42", int32(42)},
		{"int64", "int64", "-9000000000", int64(-9000000000)},
		{"int64 max", "int64", "9223372036854775807", int64(math.MaxInt64)},
		{"int64 min", "int64", "-9223372036854775808", int64(math.MinInt64)},
		{"int32 max", "int32", "2147483647", int32(math.MaxInt32)},
		{"int32 min", "int32", "-2147483648", int32(math.MinInt32)},
		{"date epoch", "date", "0", time.Unix(0, 0).UTC()},
		{"date before epoch", "date", "-86400", time.Unix(-86400, 0).UTC()},
		{"stamp before epoch", "stamp", "-1500000", time.UnixMicro(-1500000).UTC()},
		{"double", "double", "1.5", 1.5},
		{"date", "date", "1700000000", time.Unix(1700000000, 0).UTC()},
		{"stamp", "stamp", "1700000000123456", time.UnixMicro(1700000000123456).UTC()},
		{"money", "money", "12.34", decimal.RequireFromString("12.34")},
		{"blob", "blob", "aGVsbG8=", []byte("hello")},
		{"string", "string", "abc", "abc"},
		{"array dbl", "array(dbl)", "[1.5;2]", []float64{1.5, 2}},
		{"array i32", "array(i32)", "[1;2;3]", []int32{1, 2, 3}},
		{"array i64", "array(int64)", "[7]", []int64{7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.wire, tt.dtype)
			require.NoError(t, err)
			if d, ok := tt.want.(decimal.Decimal); ok {
				assert.True(t, d.Equal(got.(decimal.Decimal)))
			} else {
				assert.Equal(t, tt.want, got)
			}

			wire, err := Encode(got, tt.dtype)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, wire)
		})
	}
}

func TestDecode_Edges(t *testing.T) {
	v, err := Decode("", "double")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v.(float64)))

	v, err = Decode("nan", "double")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v.(float64)))

	s, err := Encode(math.NaN(), "double")
	require.NoError(t, err)
	assert.Equal(t, "nan", s)

	v, err = Decode("3.0", "int32")
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)

	v, err = Decode("5", "array(dbl)")
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, v)

	v, err = Decode("[ 1; 2 ]", "array(i32)")
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, v)

	v, err = Decode("x", "rstring")
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	_, err = Decode("3.5", "int32")
	assert.True(t, errors.IsInvalid(err))

	_, err = Decode("4294967296", "int32")
	assert.Error(t, err)

	_, err = Decode("abc", "date")
	assert.Error(t, err)

	_, err = Encode(struct{}{}, "string")
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

type fakeResolver map[string]*schema.Schema

func (f fakeResolver) WindowSchema(_ context.Context, window string) (*schema.Schema, error) {
	s, ok := f[window]
	if !ok {
		return nil, fmt.Errorf("window %s: %w", window, errors.ErrNotFound)
	}
	return s, nil
}

var tradesSchema = schema.MustParse("id*:int64,symbol:string,price:double")

func TestParse_XML(t *testing.T) {
	data := []byte(`<events>
  <event opcode="insert" window="p/cq/trades"><id>1</id><symbol>IBM</symbol><price>10.5</price><extra>x</extra></event>
  <event opcode="delete" window="p/cq/trades"><id>2</id><symbol>SAS</symbol><price></price></event>
  <event window="p/cq/quotes"><k>a</k></event>
</events>`)

	resolver := fakeResolver{
		"p.cq.trades": tradesSchema,
		"p.cq.quotes": schema.MustParse("k*:string"),
	}
	tables, err := Parse(context.Background(), data, Options{Resolver: resolver})
	require.NoError(t, err)
	require.Len(t, tables, 2)

	trades := tables["p.cq.trades"]
	require.NotNil(t, trades)
	assert.Equal(t, []string{"id", "symbol", "price"}, trades.Columns)
	assert.Equal(t, []string{"id"}, trades.Index)
	require.Equal(t, 2, trades.Len())
	assert.Equal(t, []any{int64(1), "IBM", 10.5}, trades.Rows[0])
	assert.Equal(t, "insert", trades.Opcode(0))
	assert.Equal(t, "delete", trades.Opcode(1))

	price, ok := trades.Value(1, "price")
	require.True(t, ok)
	assert.True(t, math.IsNaN(price.(float64)))

	quotes := tables["p.cq.quotes"]
	assert.Equal(t, "a", quotes.Record(0)["k"])
}

func TestParse_XMLResolveFailure(t *testing.T) {
	data := []byte(`<events><event window="p/cq/missing"><id>1</id></event></events>`)
	_, err := Parse(context.Background(), data, Options{Resolver: fakeResolver{}})
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = Parse(context.Background(), data, Options{})
	assert.ErrorIs(t, err, errors.ErrUnknownWindow)
}

func TestParseSingle(t *testing.T) {
	ctx := context.Background()

	empty, err := ParseSingle(ctx, []byte(`<events/>`), Options{Schema: tradesSchema, Window: "p.cq.trades"})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, []string{"id", "symbol", "price"}, empty.Columns)

	data := []byte(`<events><event window="a"><id>1</id></event><event window="b"><id>2</id></event></events>`)
	_, err = ParseSingle(ctx, data, Options{Schema: tradesSchema})
	assert.ErrorIs(t, err, errors.ErrAmbiguous)

	one, err := ParseSingle(ctx, []byte(`<event window="a"><id>3</id></event>`), Options{Schema: tradesSchema})
	require.NoError(t, err)
	assert.Equal(t, "a", one.Window)
	assert.Equal(t, int64(3), one.Rows[0][0])
}

func TestParse_CSV(t *testing.T) {
	data := []byte("i,n,1,IBM,10.5\nd,n,2,SAS,\n")
	tables, err := Parse(context.Background(), data, Options{Format: FormatCSV, Schema: tradesSchema, Window: "trades"})
	require.NoError(t, err)

	tbl := tables["trades"]
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{int64(1), "IBM", 10.5}, tbl.Rows[0])
	assert.Equal(t, "d", tbl.Opcode(1))
	assert.Equal(t, "2", tbl.Key(1))
}

func TestParse_JSON(t *testing.T) {
	data := []byte(`{"events":[{"event":{"opcode":"insert","id":"1","symbol":"IBM","price":10.5}},{"event":{"id":2,"symbol":"SAS"}}]}`)
	tables, err := Parse(context.Background(), data, Options{Format: FormatJSON, Schema: tradesSchema, Window: "trades"})
	require.NoError(t, err)

	tbl := tables["trades"]
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{int64(1), "IBM", 10.5}, tbl.Rows[0])
	assert.Equal(t, []any{int64(2), "SAS", nil}, tbl.Rows[1])
	assert.Equal(t, "insert", tbl.Opcode(0))

	_, err = Parse(context.Background(), []byte(`{bad`), Options{Format: FormatJSON, Schema: tradesSchema})
	assert.True(t, errors.IsInvalid(err))
}

func TestParse_Properties(t *testing.T) {
	data := []byte("opcode=insert\nid=1\nsymbol=IBM\nprice=10.5\n\nid=2\nsymbol=SAS\nprice=3\n")
	tables, err := Parse(context.Background(), data, Options{Format: FormatProperties, Schema: tradesSchema, Window: "trades"})
	require.NoError(t, err)

	tbl := tables["trades"]
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "insert", tbl.Opcode(0))
	assert.Equal(t, []any{int64(2), "SAS", 3.0}, tbl.Rows[1])

	tables, err = Parse(context.Background(), []byte("id=1|id=2"), Options{
		Format: FormatProperties, Schema: tradesSchema, Window: "w", Separator: "|",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, tables["w"].Len())

	_, err = Parse(context.Background(), []byte("garbage"), Options{Format: FormatProperties, Schema: tradesSchema})
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestParse_UnknownFormat(t *testing.T) {
	_, err := Parse(context.Background(), nil, Options{Format: "yaml", Schema: tradesSchema})
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatXML, DetectFormat([]byte("  <events/>")))
	assert.Equal(t, FormatJSON, DetectFormat([]byte(`{"events":[]}`)))
	assert.Equal(t, FormatProperties, DetectFormat([]byte("id=1\n")))
	assert.Equal(t, FormatCSV, DetectFormat([]byte("i,n,1")))
}

func TestTable_Operations(t *testing.T) {
	tbl := NewTable("trades", tradesSchema)
	tbl.AppendRow("", []any{int64(1), "IBM", 1.0})
	tbl.AppendRow("upsert", []any{int64(2), "SAS", 2.0})
	tbl.AppendRow("", []any{int64(3), "ACME", 3.0})

	assert.Equal(t, []string{"", "upsert", ""}, tbl.Opcodes)
	assert.Equal(t, "", tbl.Opcode(2))

	row, ok := tbl.Find("2")
	require.True(t, ok)
	assert.Equal(t, 1, row)
	_, ok = tbl.Find("9")
	assert.False(t, ok)

	assert.Equal(t, []any{"IBM", "SAS", "ACME"}, tbl.Column("symbol"))

	tail := tbl.Tail(2)
	require.Equal(t, 2, tail.Len())
	assert.Equal(t, int64(2), tail.Rows[0][0])
	assert.Equal(t, "upsert", tail.Opcode(0))

	other := NewTable("trades", tradesSchema)
	other.AppendRow("delete", []any{int64(4), "X", 4.0})
	require.NoError(t, tbl.Append(other))
	assert.Equal(t, 4, tbl.Len())
	assert.Equal(t, "delete", tbl.Opcode(3))

	mismatch := NewTable("q", schema.MustParse("k*:string"))
	assert.ErrorIs(t, tbl.Append(mismatch), errors.ErrInvalidData)

	assert.Equal(t, tradesSchema.String(), tbl.Schema().String())
}

func TestTable_EncodeCSV(t *testing.T) {
	tbl := NewTable("trades", tradesSchema)
	tbl.AppendRow("", []any{int64(1), "IBM, Inc", 1.5})
	tbl.AppendRow("delete", []any{int64(2), "SAS", math.NaN()})

	out, err := tbl.EncodeCSV("upsert")
	require.NoError(t, err)
	assert.Equal(t, "p,n,1,\"IBM, Inc\",1.5\nd,n,2,SAS,nan\n", string(out))

	tables, err := Parse(context.Background(), out, Options{Format: FormatCSV, Schema: tradesSchema, Window: "trades"})
	require.NoError(t, err)
	assert.Equal(t, "IBM, Inc", tables["trades"].Rows[0][1])
}
