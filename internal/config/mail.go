package config

// SMTPConfig is one outbound mail server.  An empty Host means unset.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// MailConfig holds the primary and backup SMTP servers.  When DryRun is
// true messages are logged instead of sent.
type MailConfig struct {
	From    string
	AppName string
	AppURL  string
	DryRun  bool
	Primary SMTPConfig
	Backup  SMTPConfig
}

func LoadMailConfig() MailConfig {
	return MailConfig{
		From:    envStr("MAIL_FROM", "no-reply@pemira.local"),
		AppName: envStr("MAIL_APP_NAME", "PEMIRA"),
		AppURL:  envStr("APP_URL", "http://localhost:5173"),
		DryRun:  envBool("MAIL_DRY_RUN", false),
		Primary: SMTPConfig{
			Host:     envStr("SMTP_HOST", ""),
			Port:     envInt("SMTP_PORT", 587),
			Username: envStr("SMTP_USER", ""),
			Password: envStr("SMTP_PASS", ""),
		},
		Backup: SMTPConfig{
			Host:     envStr("SMTP_BACKUP_HOST", ""),
			Port:     envInt("SMTP_BACKUP_PORT", 587),
			Username: envStr("SMTP_BACKUP_USER", ""),
			Password: envStr("SMTP_BACKUP_PASS", ""),
		},
	}
}
