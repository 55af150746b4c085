package handlers

import (
	"context"

	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/services"
)

type stubSessionService struct {
	getCartFunc       func(ctx context.Context, cmd services.GetCartCommand) (services.CartView, error)
	getCouponsFunc    func(ctx context.Context, sessionKey string) ([]services.CouponSummary, error)
	applyCouponFunc   func(ctx context.Context, cmd services.CouponCommand) (services.MessageResult, error)
	removeCouponFunc  func(ctx context.Context, cmd services.CouponCommand) (services.MessageResult, error)
	setAddressFunc    func(ctx context.Context, cmd services.SetAddressCommand) (services.MessageResult, error)
	setShippingFunc   func(ctx context.Context, cmd services.SetShippingMethodCommand) (services.MessageResult, error)
	setPaymentFunc    func(ctx context.Context, cmd services.SetPaymentMethodCommand) (services.MessageResult, error)
	walletBalanceFunc func(ctx context.Context, email string) (services.WalletBalance, error)
	deductWalletFunc  func(ctx context.Context, cmd services.DeductWalletCommand) (services.WalletDeduction, error)
}

var _ services.CheckoutSessionService = (*stubSessionService)(nil)

func (s *stubSessionService) GetCart(ctx context.Context, cmd services.GetCartCommand) (services.CartView, error) {
	if s.getCartFunc == nil {
		return services.CartView{}, nil
	}
	return s.getCartFunc(ctx, cmd)
}

func (s *stubSessionService) GetCoupons(ctx context.Context, sessionKey string) ([]services.CouponSummary, error) {
	if s.getCouponsFunc == nil {
		return nil, nil
	}
	return s.getCouponsFunc(ctx, sessionKey)
}

func (s *stubSessionService) ApplyCoupon(ctx context.Context, cmd services.CouponCommand) (services.MessageResult, error) {
	if s.applyCouponFunc == nil {
		return services.MessageResult{}, nil
	}
	return s.applyCouponFunc(ctx, cmd)
}

func (s *stubSessionService) RemoveCoupon(ctx context.Context, cmd services.CouponCommand) (services.MessageResult, error) {
	if s.removeCouponFunc == nil {
		return services.MessageResult{}, nil
	}
	return s.removeCouponFunc(ctx, cmd)
}

func (s *stubSessionService) SetAddress(ctx context.Context, cmd services.SetAddressCommand) (services.MessageResult, error) {
	if s.setAddressFunc == nil {
		return services.MessageResult{}, nil
	}
	return s.setAddressFunc(ctx, cmd)
}

func (s *stubSessionService) SetShippingMethod(ctx context.Context, cmd services.SetShippingMethodCommand) (services.MessageResult, error) {
	if s.setShippingFunc == nil {
		return services.MessageResult{}, nil
	}
	return s.setShippingFunc(ctx, cmd)
}

func (s *stubSessionService) SetPaymentMethod(ctx context.Context, cmd services.SetPaymentMethodCommand) (services.MessageResult, error) {
	if s.setPaymentFunc == nil {
		return services.MessageResult{}, nil
	}
	return s.setPaymentFunc(ctx, cmd)
}

func (s *stubSessionService) GetWalletBalance(ctx context.Context, email string) (services.WalletBalance, error) {
	if s.walletBalanceFunc == nil {
		return services.WalletBalance{}, nil
	}
	return s.walletBalanceFunc(ctx, email)
}

func (s *stubSessionService) DeductWalletBalance(ctx context.Context, cmd services.DeductWalletCommand) (services.WalletDeduction, error) {
	if s.deductWalletFunc == nil {
		return services.WalletDeduction{}, nil
	}
	return s.deductWalletFunc(ctx, cmd)
}

type stubOrderService struct {
	placeFunc  func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlacedOrder, error)
	existsFunc func(ctx context.Context, cmd services.CheckOrderExistsCommand) (services.ExistingOrder, error)
	statusFunc func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.OrderStatusChange, error)
}

var _ services.OrderPlacementService = (*stubOrderService)(nil)

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlacedOrder, error) {
	if s.placeFunc == nil {
		return services.PlacedOrder{}, nil
	}
	return s.placeFunc(ctx, cmd)
}

func (s *stubOrderService) CheckOrderExists(ctx context.Context, cmd services.CheckOrderExistsCommand) (services.ExistingOrder, error) {
	if s.existsFunc == nil {
		return services.ExistingOrder{}, nil
	}
	return s.existsFunc(ctx, cmd)
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.OrderStatusChange, error) {
	if s.statusFunc == nil {
		return services.OrderStatusChange{}, nil
	}
	return s.statusFunc(ctx, cmd)
}

type stubScriptService struct {
	configFunc   func(ctx context.Context, cmd services.ScriptConfigCommand) (services.ScriptConfig, error)
	statusFunc   func(ctx context.Context, sessionKey string) (services.CartStatus, error)
	clearFunc    func(ctx context.Context, cmd services.ClearCartCommand) (services.ClearCartResult, error)
	gatewaysFunc func(ctx context.Context, sessionKey string) ([]payments.Gateway, error)
}

var _ services.CheckoutScriptService = (*stubScriptService)(nil)

func (s *stubScriptService) ScriptConfig(ctx context.Context, cmd services.ScriptConfigCommand) (services.ScriptConfig, error) {
	if s.configFunc == nil {
		return services.ScriptConfig{}, nil
	}
	return s.configFunc(ctx, cmd)
}

func (s *stubScriptService) CartStatus(ctx context.Context, sessionKey string) (services.CartStatus, error) {
	if s.statusFunc == nil {
		return services.CartStatus{}, nil
	}
	return s.statusFunc(ctx, sessionKey)
}

func (s *stubScriptService) ClearCart(ctx context.Context, cmd services.ClearCartCommand) (services.ClearCartResult, error) {
	if s.clearFunc == nil {
		return services.ClearCartResult{}, nil
	}
	return s.clearFunc(ctx, cmd)
}

func (s *stubScriptService) VisibleGateways(ctx context.Context, sessionKey string) ([]payments.Gateway, error) {
	if s.gatewaysFunc == nil {
		return nil, nil
	}
	return s.gatewaysFunc(ctx, sessionKey)
}
