package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/entity"
	"github.com/vibast-solutions/ms-go-lavago-payments/app/types"
)

func PaymentToResponse(item *entity.Payment) *types.Payment {
	if item == nil {
		return nil
	}

	return &types.Payment{
		Id:                     item.ID,
		RequestId:              item.RequestID,
		CallerService:          item.CallerService,
		UserId:                 item.UserID,
		ResourceType:           item.ResourceType,
		ResourceId:             item.ResourceID,
		Description:            item.Description,
		AmountCents:            item.AmountCents,
		Currency:               item.Currency,
		Status:                 string(item.Status),
		Flow:                   string(item.Flow),
		Provider:               item.Provider,
		ProviderOrderId:        derefString(item.ProviderOrderID),
		ProviderChargeId:       derefString(item.ProviderChargeID),
		CheckoutUrl:            derefString(item.CheckoutURL),
		AuthorizationExpiresAt: formatOptionalTime(item.AuthorizationExpiresAt),
		CapturedCents:          item.CapturedCents,
		RefundedCents:          item.RefundedCents,
		RefundableCents:        item.RefundableCents(),
		FailureReason:          derefString(item.FailureReason),
		StatusCallbackUrl:      item.StatusCallbackURL,
		Metadata:               cloneMetadata(item.Metadata),
		CreatedAt:              item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:              item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func PaymentsToResponse(items []*entity.Payment) []*types.Payment {
	result := make([]*types.Payment, 0, len(items))
	for _, item := range items {
		result = append(result, PaymentToResponse(item))
	}
	return result
}

func RefundsToResponse(items []*entity.Refund) []*types.Refund {
	result := make([]*types.Refund, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		result = append(result, &types.Refund{
			Id:               item.ID,
			PaymentId:        item.PaymentID,
			AmountCents:      item.AmountCents,
			ProviderRefundId: derefString(item.ProviderRefundID),
			Reason:           derefString(item.Reason),
			CreatedAt:        item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatOptionalTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
