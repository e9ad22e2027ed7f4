package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"primepulse/internal/app"
)

var (
	simulatePrevious    float64
	simulateCurrent     float64
	simulateCoupon      float64
	simulateBackInStock bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格变化并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrevious <= 0 || simulateCurrent <= 0 {
			return errors.New("--previous 与 --current 必须大于 0")
		}

		opts := app.SimulateOptions{
			PreviousPrice: decimal.NewFromFloat(simulatePrevious),
			CurrentPrice:  decimal.NewFromFloat(simulateCurrent),
			CouponAmount:  decimal.NewFromFloat(simulateCoupon),
			BackInStock:   simulateBackInStock,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "上一次观测价格")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "本次观测价格")
	simulateCmd.Flags().Float64Var(&simulateCoupon, "coupon", 0, "本次观测的优惠券金额")
	simulateCmd.Flags().BoolVar(&simulateBackInStock, "back-in-stock", false, "模拟从无货恢复到有货")
}
