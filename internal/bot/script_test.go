package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waconnect/internal/models"
)

func testContact() *models.Contact {
	return &models.Contact{Name: "Maria", Mobile: "5511999998888"}
}

func TestCompareValuesNumeric(t *testing.T) {
	cases := []struct {
		variable interface{}
		operator string
		literal  string
		want     bool
	}{
		{"21", ">", "18", true},
		{21.0, ">", "18", true},
		{"17", ">", "18", false},
		{"18", ">=", "18", true},
		{"18", "<=", "18", true},
		{"5", "<", "10", true},
		{"10", "==", "10", true},
		{"10", "!=", "10", false},
	}
	for _, tc := range cases {
		got, err := compareValues(tc.variable, tc.operator, tc.literal)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v %s %s", tc.variable, tc.operator, tc.literal)
	}
}

func TestCompareValuesBoolean(t *testing.T) {
	got, err := compareValues(true, "==", "yes")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = compareValues("no", "==", "false")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCompareValuesContains(t *testing.T) {
	got, err := compareValues("I want Pizza please", "contains", "pizza")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = compareValues("salad", "not_contains", "pizza")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCompareValuesUnknownOperator(t *testing.T) {
	_, err := compareValues("a", "~=", "b")
	assert.Error(t, err)
}

func TestEvalConditionAgainstVars(t *testing.T) {
	session := &models.BotSession{Variables: map[string]interface{}{"age": 21.0}}
	env := scriptEnv(session, testContact(), "", nil)

	ok, err := evalCondition(`vars.age > 18`, env)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evalCondition(`vars.age > 30`, env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScriptSetHelperMutatesSession(t *testing.T) {
	session := &models.BotSession{}
	env := scriptEnv(session, testContact(), "", nil)

	_, err := evalScript(`set("greeted", true)`, env)
	require.NoError(t, err)
	assert.Equal(t, true, session.GetVariable("greeted", nil))
}

func TestScriptSeesContactContext(t *testing.T) {
	session := &models.BotSession{}
	env := scriptEnv(session, testContact(), "madrid today", []string{"madrid", "today"})

	out, err := evalScript(`"Hi " + contact_name + ", you asked about " + args[0]`, env)
	require.NoError(t, err)
	assert.Equal(t, "Hi Maria, you asked about madrid", out)
}

func TestScriptCompileErrorSurfaces(t *testing.T) {
	session := &models.BotSession{}
	env := scriptEnv(session, testContact(), "", nil)
	_, err := evalScript(`this is not valid ((`, env)
	assert.Error(t, err)
}
