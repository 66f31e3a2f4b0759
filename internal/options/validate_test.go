package options

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func compressSchema(t *testing.T) Schema {
	t.Helper()
	s := Schema{
		"quality":   {Type: TypeInteger, Min: intPtr(10), Max: intPtr(100), Default: 90},
		"level":     {Type: TypeEnum, Values: []string{"low", "medium", "high"}, Default: "medium"},
		"grayscale": {Type: TypeBoolean, Default: false},
		"start":     {Type: TypeString, Pattern: `^\d{2}:\d{2}:\d{2}$`, MaxLength: 8, Default: "00:00:00"},
		"password":  {Type: TypeString, MaxLength: 16, Secret: true},
	}
	require.NoError(t, s.Compile())
	return s
}

func TestValidateAppliesDefaults(t *testing.T) {
	s := compressSchema(t)

	v, err := Validate(s, nil)
	require.NoError(t, err)

	assert.Equal(t, 90, v.Int("quality"))
	assert.Equal(t, "medium", v.String("level"))
	assert.False(t, v.Bool("grayscale"))
	assert.Equal(t, "00:00:00", v.String("start"))
	assert.False(t, v.Has("password"))
}

func TestValidateBelowMinimum(t *testing.T) {
	s := compressSchema(t)

	_, err := Validate(s, map[string]any{"quality": 5})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "quality", verr.Field)
	assert.Equal(t, "below minimum 10", verr.Reason)
}

func TestValidateIntegerBounds(t *testing.T) {
	s := compressSchema(t)

	tests := []struct {
		name   string
		value  any
		want   int
		reason string
	}{
		{name: "lower bound", value: 10, want: 10},
		{name: "upper bound", value: 100, want: 100},
		{name: "one below", value: 9, reason: "below minimum 10"},
		{name: "one above", value: 101, reason: "above maximum 100"},
		{name: "numeric string", value: " 42 ", want: 42},
		{name: "integral float", value: 55.0, want: 55},
		{name: "json number", value: json.Number("77"), want: 77},
		{name: "fractional float", value: 55.5, reason: "must be an integer"},
		{name: "word", value: "high", reason: "must be an integer"},
		{name: "bool", value: true, reason: "must be an integer"},
		{name: "int8", value: int8(20), want: 20},
		{name: "int16", value: int16(30), want: 30},
		{name: "uint8", value: uint8(40), want: 40},
		{name: "uint64", value: uint64(50), want: 50},
		{name: "uint above int range", value: uint64(math.MaxUint64), reason: "must be an integer"},
		{name: "int64 above int32", value: int64(math.MaxInt32) + 1, reason: "must be an integer"},
		{name: "huge numeric string", value: "99999999999999999999", reason: "must be an integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Validate(s, map[string]any{"quality": tt.value})
			if tt.reason != "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.reason, verr.Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Int("quality"))
		})
	}
}

func TestValidateEveryDeclaredBound(t *testing.T) {
	s := Schema{
		"width":  {Type: TypeInteger, Min: intPtr(1), Max: intPtr(10000), Default: 800},
		"fps":    {Type: TypeInteger, Min: intPtr(1), Max: intPtr(30), Default: 10},
		"offset": {Type: TypeInteger, Min: intPtr(0), Default: 0},
	}
	require.NoError(t, s.Compile())

	for _, key := range s.Keys() {
		f := s[key]
		if f.Min != nil {
			_, err := Validate(s, map[string]any{key: *f.Min})
			assert.NoError(t, err, "%s at min", key)
			_, err = Validate(s, map[string]any{key: *f.Min - 1})
			assert.Error(t, err, "%s below min", key)
		}
		if f.Max != nil {
			_, err := Validate(s, map[string]any{key: *f.Max})
			assert.NoError(t, err, "%s at max", key)
			_, err = Validate(s, map[string]any{key: *f.Max + 1})
			assert.Error(t, err, "%s above max", key)
		}
	}
}

func TestValidateEnumNormalisesCase(t *testing.T) {
	s := compressSchema(t)

	v, err := Validate(s, map[string]any{"level": "HIGH"})
	require.NoError(t, err)
	assert.Equal(t, "high", v.String("level"))

	_, err = Validate(s, map[string]any{"level": "extreme"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must be one of low, medium, high", verr.Reason)
}

func TestValidateNumericEnum(t *testing.T) {
	s := Schema{"resolution": {Type: TypeEnum, Values: []string{"original", "360", "720"}, Default: "original"}}
	require.NoError(t, s.Compile())

	v, err := Validate(s, map[string]any{"resolution": 720.0})
	require.NoError(t, err)
	assert.Equal(t, "720", v.String("resolution"))
}

func TestValidateBooleans(t *testing.T) {
	s := compressSchema(t)

	for raw, want := range map[any]bool{"on": true, "off": false, "1": true, "0": false, "TRUE": true, false: false, 1: true} {
		v, err := Validate(s, map[string]any{"grayscale": raw})
		require.NoError(t, err, "%v", raw)
		assert.Equal(t, want, v.Bool("grayscale"), "%v", raw)
	}

	_, err := Validate(s, map[string]any{"grayscale": "maybe"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must be a boolean", verr.Reason)
}

func TestValidateStrings(t *testing.T) {
	s := compressSchema(t)

	_, err := Validate(s, map[string]any{"start": "1:00"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "does not match pattern", verr.Reason)

	_, err = Validate(s, map[string]any{"password": "this-is-far-too-long"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "longer than 16 characters", verr.Reason)
}

func TestValidateUnknownKey(t *testing.T) {
	s := compressSchema(t)

	_, err := Validate(s, map[string]any{"turbo": true})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "turbo", verr.Field)
	assert.Equal(t, "unknown option", verr.Reason)
}

func TestValidateReportsFirstFieldInKeyOrder(t *testing.T) {
	s := compressSchema(t)

	for i := 0; i < 20; i++ {
		_, err := Validate(s, map[string]any{"quality": 1, "level": "nope", "zzz": 1})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "level", verr.Field)
	}
}

func TestValidateRequired(t *testing.T) {
	s := Schema{"password": {Type: TypeString, Required: true}}
	require.NoError(t, s.Compile())

	_, err := Validate(s, map[string]any{"password": ""})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr.Reason)
}

func TestValidateDoesNotMutateInput(t *testing.T) {
	s := compressSchema(t)
	in := map[string]any{"quality": "50"}

	_, err := Validate(s, in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"quality": "50"}, in)
}

func TestCompileRejectsBadSchemas(t *testing.T) {
	assert.Error(t, Schema{"q": {Type: TypeInteger, Min: intPtr(5), Max: intPtr(1)}}.Compile())
	assert.Error(t, Schema{"e": {Type: TypeEnum}}.Compile())
	assert.Error(t, Schema{"s": {Type: TypeString, Pattern: "("}}.Compile())
	assert.Error(t, Schema{"x": {Type: "float"}}.Compile())
	assert.Error(t, Schema{"q": {Type: TypeInteger, Max: intPtr(10), Default: 11}}.Compile())
}

func TestValuesSurviveJSONRoundTrip(t *testing.T) {
	s := compressSchema(t)
	v, err := Validate(s, map[string]any{"quality": 33, "password": "pw"})
	require.NoError(t, err)

	b, err := json.Marshal(v)
	require.NoError(t, err)
	var back Values
	require.NoError(t, json.Unmarshal(b, &back))

	assert.Equal(t, 33, back.Int("quality"))
	assert.Equal(t, "***", back.Redacted(s)["password"])
}
