package domain

import "time"

// Identity authenticated user as exposed by the identity provider
// Identity 身份提供方暴露的已认证用户
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Name returns the display name, falling back to "Anonymous"
func (i Identity) Name() string {
	if i.DisplayName == "" {
		return "Anonymous"
	}
	return i.DisplayName
}

// Member builds a member record for this identity
// Member 根据身份构造成员记录
func (i Identity) Member(role Role, now time.Time) MemberRecord {
	return MemberRecord{
		UserID:      i.UserID,
		DisplayName: i.Name(),
		Email:       i.Email,
		AvatarURL:   i.AvatarURL,
		Role:        role,
		JoinedAt:    now,
	}
}
