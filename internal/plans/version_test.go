package plans

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextVersionLabel_IncrementsTrailingInteger(t *testing.T) {
	require.Equal(t, "v4", NextVersionLabel("v3"))
	require.Equal(t, "2", NextVersionLabel("1"))
	require.Equal(t, "winter-2027", NextVersionLabel("winter-2026"))
}

func TestNextVersionLabel_PreservesLeadingZeros(t *testing.T) {
	require.Equal(t, "2.10", NextVersionLabel("2.09"))
	require.Equal(t, "v002", NextVersionLabel("v001"))
}

func TestNextVersionLabel_ZeroPaddingDropsWhenWidthGrows(t *testing.T) {
	require.Equal(t, "v100", NextVersionLabel("v099"))
}

func TestNextVersionLabel_NonNumericGetsSuffix(t *testing.T) {
	require.Equal(t, "draft-2", NextVersionLabel("draft"))
	require.Equal(t, "spring-final-2", NextVersionLabel("spring-final"))
}

func TestNextVersionLabel_EmptyLabel(t *testing.T) {
	require.Equal(t, "2", NextVersionLabel(""))
	require.Equal(t, "2", NextVersionLabel("   "))
}

func TestNextVersionLabel_UnparseableDigitRun(t *testing.T) {
	huge := "v99999999999999999999999999"
	require.Equal(t, huge+"-2", NextVersionLabel(huge))
}
