package email

import "fmt"

// verificationBody returns the plain text body for an email verification message.
func verificationBody(serverName, serverURL, token string) string {
	return fmt.Sprintf(
		"Welcome to %s!\n\n"+
			"Please verify your email address by visiting the link below:\n\n"+
			"%s/verify-email?token=%s\n\n"+
			"This link expires in 24 hours. If you did not create an account, you can safely ignore this email.\n",
		serverName, serverURL, token,
	)
}

// passwordResetBody returns the plain text body for a password reset message.
func passwordResetBody(serverName, serverURL, token string) string {
	return fmt.Sprintf(
		"A password reset was requested for your %s account.\n\n"+
			"Visit the link below to choose a new password:\n\n"+
			"%s/reset-password?token=%s\n\n"+
			"This link expires soon and can only be used once. If you did not request this, you can safely ignore this email.\n",
		serverName, serverURL, token,
	)
}
