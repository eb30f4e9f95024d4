package store

import "time"

type SubjectType string

const (
	SubjectProject SubjectType = "project"
	SubjectIdea    SubjectType = "idea"
)

func (t SubjectType) Valid() bool {
	return t == SubjectProject || t == SubjectIdea
}

type EdgeKind string

const (
	KindLike         EdgeKind = "like"
	KindLightbulb    EdgeKind = "lightbulb"
	KindCollaborator EdgeKind = "collaborator"
)

// ValidFor reports whether an edge of this kind may attach to the subject type.
// Likes belong to projects, lightbulbs to ideas, collaborators to both.
func (k EdgeKind) ValidFor(subject SubjectType) bool {
	switch k {
	case KindLike:
		return subject == SubjectProject
	case KindLightbulb:
		return subject == SubjectIdea
	case KindCollaborator:
		return subject.Valid()
	default:
		return false
	}
}

// ReactionKind returns the reaction edge kind used by the subject type.
func ReactionKind(subject SubjectType) EdgeKind {
	if subject == SubjectIdea {
		return KindLightbulb
	}
	return KindLike
}

type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

type User struct {
	ID           string
	Email        string
	DisplayName  string
	AvatarURL    string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type SocialLinks struct {
	GitHub    string `json:"github,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
}

type Project struct {
	ID           string
	Title        string
	Description  string
	Industry     string
	Field        string
	Difficulty   int
	Privacy      Privacy
	OwnerID      string
	ImageURL     string
	Links        SocialLinks
	SourceIdeaID *string
	CreatedAt    time.Time
}

type Idea struct {
	ID                string
	Title             string
	Description       string
	Industry          string
	Field             string
	OwnerID           string
	PromotedProjectID *string
	CreatedAt         time.Time
}

// Promoted reports whether the idea has already become a project.
func (i Idea) Promoted() bool {
	return i.PromotedProjectID != nil && *i.PromotedProjectID != ""
}

type EdgeKey struct {
	SubjectType SubjectType
	SubjectID   string
	Kind        EdgeKind
	UserID      string
}

type Edge struct {
	EdgeKey
	CreatedAt time.Time
}

type Comment struct {
	ID           string
	SubjectType  SubjectType
	SubjectID    string
	AuthorID     string
	AuthorName   string
	AuthorAvatar string
	Text         string
	CreatedAt    time.Time
}

// CommentCursor marks the position after which the next newest-first page starts.
type CommentCursor struct {
	CreatedAt time.Time
	ID        string
}

// Engagement is the derived aggregate for one subject, optionally with the
// viewer's own edges.
type Engagement struct {
	Reactions          int
	Collaborators      int
	Comments           int
	ViewerReacted      bool
	ViewerCollaborator bool
}
