package registry

// builtinEntries is the bundled default server list, used when neither a
// cached nor a remotely fetched list is available
var builtinEntries = []Entry{
	{URL: "https://api.ipify.org", Parse: ParsePlainText},
	{URL: "https://icanhazip.com", Parse: ParsePlainText},
	{URL: "https://ifconfig.me/ip", Parse: ParsePlainText},
	{URL: "https://checkip.amazonaws.com", Parse: ParsePlainText},
	{URL: "https://ipinfo.io/ip", Parse: ParsePlainText},
	{URL: "https://ident.me", Parse: ParsePlainText},
	{URL: "https://api.ip.sb/ip", Parse: ParsePlainText},
	{URL: "https://ipecho.net/plain", Parse: ParsePlainText},
	{URL: "https://api.ipify.org?format=json", Parse: ParseJSONField, Field: "ip"},
	{URL: "https://api.myip.com", Parse: ParseJSONField, Field: "ip"},
	{URL: "https://ifconfig.co/json", Parse: ParseJSONField, Field: "ip"},
	{URL: "https://httpbin.org/ip", Parse: ParseJSONField, Field: "origin"},
}

// builtinServers returns a copy so callers cannot mutate the defaults
func builtinServers() []Entry {
	entries := make([]Entry, len(builtinEntries))
	copy(entries, builtinEntries)
	return entries
}
