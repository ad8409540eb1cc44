package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinrail/custody_service/internal/domain/entities"
)

// UserDirectory resolves a user id to a deliverable address
type UserDirectory interface {
	GetEmail(ctx context.Context, userID uuid.UUID) (string, error)
}

// Mailer is the raw delivery contract satisfied by EmailService
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, htmlContent, textContent string) error
}

// NotificationService composes and delivers custody event emails.
// Each terminal withdrawal outcome and each credited deposit produces
// exactly one call into this service.
type NotificationService struct {
	logger *zap.Logger
	users  UserDirectory
	mailer Mailer
}

func NewNotificationService(logger *zap.Logger, users UserDirectory, mailer Mailer) *NotificationService {
	return &NotificationService{logger: logger, users: users, mailer: mailer}
}

// NotifyWithdrawalCompleted tells the user their withdrawal settled on chain
func (n *NotificationService) NotifyWithdrawalCompleted(ctx context.Context, userID uuid.UUID, amount, destination string) error {
	email, err := n.users.GetEmail(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve notification address: %w", err)
	}

	safeAmount := EscapeForHTML(amount)
	safeDest := EscapeForHTML(destination)

	subject := "Withdrawal Completed"
	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head><title>Withdrawal Completed</title></head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #d4edda; padding: 30px; border-radius: 8px; border: 1px solid #c3e6cb;">
				<h1 style="color: #155724; margin-bottom: 20px;">Withdrawal Completed</h1>
				<p style="color: #155724; font-size: 16px; line-height: 1.5;">
					Your withdrawal of <strong>%s</strong> has been sent to:
				</p>
				<p style="background-color: white; padding: 12px; border-radius: 6px; word-break: break-all; font-family: monospace;">%s</p>
				<p style="color: #155724; font-size: 14px;">
					Sent at %s. Depending on network conditions it may take a few
					minutes to appear in the receiving wallet.
				</p>
			</div>
		</body>
		</html>
	`, safeAmount, safeDest, time.Now().UTC().Format(time.RFC1123))

	textContent := fmt.Sprintf(`
Withdrawal Completed

Your withdrawal of %s has been sent to:
%s

Depending on network conditions it may take a few minutes to appear in
the receiving wallet.
`, amount, destination)

	n.logger.Info("Sending withdrawal completed notification",
		zap.String("user_id", userID.String()))

	return n.mailer.SendEmail(ctx, email, subject, htmlContent, textContent)
}

// NotifyWithdrawalFailed tells the user their withdrawal did not execute
// and that the amount was returned to their balance
func (n *NotificationService) NotifyWithdrawalFailed(ctx context.Context, userID uuid.UUID, amount, reason string) error {
	email, err := n.users.GetEmail(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve notification address: %w", err)
	}

	safeAmount := EscapeForHTML(amount)
	safeReason := EscapeForHTML(reason)

	subject := "Withdrawal Failed"
	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head><title>Withdrawal Failed</title></head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #fff3cd; padding: 30px; border-radius: 8px; border: 1px solid #ffeaa7;">
				<h1 style="color: #856404; margin-bottom: 20px;">Withdrawal Failed</h1>
				<p style="color: #856404; font-size: 16px; line-height: 1.5;">
					Your withdrawal of <strong>%s</strong> could not be completed:
				</p>
				<p style="background-color: white; padding: 12px; border-radius: 6px;">%s</p>
				<p style="color: #856404; font-size: 14px;">
					The amount has been returned to your balance. You can retry the
					withdrawal at any time.
				</p>
			</div>
		</body>
		</html>
	`, safeAmount, safeReason)

	textContent := fmt.Sprintf(`
Withdrawal Failed

Your withdrawal of %s could not be completed:
%s

The amount has been returned to your balance. You can retry the
withdrawal at any time.
`, amount, reason)

	n.logger.Info("Sending withdrawal failed notification",
		zap.String("user_id", userID.String()))

	return n.mailer.SendEmail(ctx, email, subject, htmlContent, textContent)
}

// NotifyDepositReceived tells the user a confirmed inbound transfer was
// credited to their balance
func (n *NotificationService) NotifyDepositReceived(ctx context.Context, userID uuid.UUID, chain entities.Chain, amount, txID string) error {
	email, err := n.users.GetEmail(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve notification address: %w", err)
	}

	safeAmount := EscapeForHTML(amount)
	safeTx := EscapeForHTML(txID)

	subject := fmt.Sprintf("Deposit Received (%s)", chain)
	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head><title>Deposit Received</title></head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #d4edda; padding: 30px; border-radius: 8px; border: 1px solid #c3e6cb;">
				<h1 style="color: #155724; margin-bottom: 20px;">Deposit Received</h1>
				<p style="color: #155724; font-size: 16px; line-height: 1.5;">
					A deposit of <strong>%s %s</strong> has been confirmed and
					credited to your balance.
				</p>
				<p style="color: #155724; font-size: 14px;">Transaction:</p>
				<p style="background-color: white; padding: 12px; border-radius: 6px; word-break: break-all; font-family: monospace;">%s</p>
			</div>
		</body>
		</html>
	`, safeAmount, chain, safeTx)

	textContent := fmt.Sprintf(`
Deposit Received

A deposit of %s %s has been confirmed and credited to your balance.

Transaction: %s
`, amount, chain, txID)

	n.logger.Info("Sending deposit received notification",
		zap.String("user_id", userID.String()),
		zap.String("chain", string(chain)))

	return n.mailer.SendEmail(ctx, email, subject, htmlContent, textContent)
}
