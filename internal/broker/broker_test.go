package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopic_BitExactAndSpaceStripped(t *testing.T) {
	got := Topic("Div One", "Plant A", "Area 1", "Sub Area", "Line 5", "Status")
	require.Equal(t, "m/DivOne/PlantA/Area1/SubArea/line/Line5/Status", got)
}
