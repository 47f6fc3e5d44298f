package constants

const USER_AGENT = "coalesce/0.1.0 (+https://github.com/Amund211/coalesce)"
