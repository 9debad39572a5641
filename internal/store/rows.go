// Copyright (c) 2026 Mesteriis

package store

import "time"

// Row types mirror the schema spec §6 names directly: Certificates,
// Subjects, Services, Certificates_Services, Targets, Disthosts, Jails,
// Places, CertInstances, CertKeyData. Deployment is modelled as: a
// Certificate belongs to zero or more Services (certificatesServicesRow);
// a Service owns a set of Places (loaded in no fixed order); a Service is deployed to zero or
// more Targets, each pointing at one Jail of one Disthost (the pseudo-jail
// with an empty name stands for "no jail").

type certificateRow struct {
	ID              int64 `gorm:"primaryKey;column:id"`
	Name            string `gorm:"column:name;uniqueIndex"`
	CertType        string `gorm:"column:cert_type"`
	SubjectType     string `gorm:"column:subject_type"`
	EncryptionAlgo  string `gorm:"column:encryption_algo"`
	OCSPMustStaple  bool   `gorm:"column:ocsp_must_staple"`
	Disabled        bool   `gorm:"column:disabled"`
	AuthorizedUntil *time.Time `gorm:"column:authorized_until"`
}

func (certificateRow) TableName() string { return "certificates" }

type subjectRow struct {
	ID            int64  `gorm:"primaryKey;column:id"`
	CertificateID int64  `gorm:"column:certificate_id;index"`
	FQDN          string `gorm:"column:fqdn"`
	SortOrder     int    `gorm:"column:sort_order"`
}

func (subjectRow) TableName() string { return "subjects" }

type serviceRow struct {
	ID   int64  `gorm:"primaryKey;column:id"`
	Name string `gorm:"column:name"`
}

func (serviceRow) TableName() string { return "services" }

type certificatesServicesRow struct {
	CertificateID int64 `gorm:"column:certificate_id;primaryKey"`
	ServiceID     int64 `gorm:"column:service_id;primaryKey"`
}

func (certificatesServicesRow) TableName() string { return "certificates_services" }

type disthostRow struct {
	ID       int64  `gorm:"primaryKey;column:id"`
	FQDN     string `gorm:"column:fqdn;uniqueIndex"`
	JailRoot string `gorm:"column:jail_root"`
}

func (disthostRow) TableName() string { return "disthosts" }

type jailRow struct {
	ID         int64  `gorm:"primaryKey;column:id"`
	DisthostID int64  `gorm:"column:disthost_id;index"`
	Name       string `gorm:"column:name"` // "" denotes the pseudo-jail
}

func (jailRow) TableName() string { return "jails" }

type placeRow struct {
	ID            int64  `gorm:"primaryKey;column:id"`
	ServiceID     int64  `gorm:"column:service_id;index"`
	Name          string `gorm:"column:name"`
	CertFileType  string `gorm:"column:cert_file_type"`
	CertPath      string `gorm:"column:cert_path"`
	KeyPath       string `gorm:"column:key_path"`
	UID           int    `gorm:"column:uid"`
	GID           int    `gorm:"column:gid"`
	Mode          uint32 `gorm:"column:mode"`
	ChownBoth     bool   `gorm:"column:chown_both"`
	PGLink        bool   `gorm:"column:pg_link"`
	ReloadCommand string `gorm:"column:reload_command"`
}

func (placeRow) TableName() string { return "places" }

type targetRow struct {
	ID        int64 `gorm:"primaryKey;column:id"`
	ServiceID int64 `gorm:"column:service_id;index"`
	JailID    int64 `gorm:"column:jail_id;index"`
}

func (targetRow) TableName() string { return "targets" }

type certInstanceRow struct {
	ID             int64      `gorm:"primaryKey;column:id"`
	CertificateID  int64      `gorm:"column:certificate_id;index"`
	State          string     `gorm:"column:state"`
	OCSPMustStaple bool       `gorm:"column:ocsp_must_staple"`
	NotBefore      time.Time  `gorm:"column:not_before"`
	NotAfter       time.Time  `gorm:"column:not_after"`
	CACertInstanceID *int64   `gorm:"column:ca_cert_instance_id"` // self-referencing; NULL only transiently during the CA-root two-step insert
}

func (certInstanceRow) TableName() string { return "cert_instances" }

type certKeyDataRow struct {
	ID             int64  `gorm:"primaryKey;column:id"`
	CertInstanceID int64  `gorm:"column:cert_instance_id;index"`
	Algorithm      string `gorm:"column:algorithm"`
	Cert           []byte `gorm:"column:cert"`
	Key            []byte `gorm:"column:key"`
	Hash           string `gorm:"column:hash;index"`
}

func (certKeyDataRow) TableName() string { return "cert_key_data" }
