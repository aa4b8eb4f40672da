package httpclient

import (
	"os"
)

// GetSystemProxy returns the system proxy URL from environment variables.
func GetSystemProxy() string {
	envVars := []string{
		"HTTPS_PROXY", "https_proxy",
		"HTTP_PROXY", "http_proxy",
		"ALL_PROXY", "all_proxy",
	}
	for _, env := range envVars {
		if proxy := os.Getenv(env); proxy != "" {
			return proxy
		}
	}
	return ""
}
