package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShippingStagesOrder(t *testing.T) {
	assert.Len(t, ShippingStages, 9)
	assert.Equal(t, ShippingAwaitingPayment, ShippingStages[0])
	assert.Equal(t, ShippingDelivered, ShippingStages[len(ShippingStages)-1])

	for i, stage := range ShippingStages {
		assert.Equal(t, i, StageIndex(stage))
		assert.True(t, stage.Valid())
		assert.NotEmpty(t, stage.DefaultDescription())
		assert.Equal(t, stage == ShippingDelivered, stage.IsTerminal())
	}
}

func TestUnknownStage(t *testing.T) {
	assert.Equal(t, -1, StageIndex("in_orbit"))
	assert.False(t, ShippingStatus("in_orbit").Valid())
	assert.Empty(t, ShippingStatus("").DefaultDescription())
}
