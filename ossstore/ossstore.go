package ossstore

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/aliyun/credentials-go/credentials"

	"charassets/domain"
)

// Store is the CDN origin bucket that character images are synced into.
type Store struct {
	bucketName string
	bucket     *oss.Bucket
	cred       credentials.Credential

	prefix  string
	cdnBase string
}

// NewFromEnv returns (nil, false, nil) when OSS_BUCKET is unset. When the bucket
// is set but the rest of the configuration is unusable, enabled is true and err
// is non-nil: callers must treat that as fatal.
func NewFromEnv() (*Store, bool, error) {
	bucket := strings.TrimSpace(os.Getenv("OSS_BUCKET"))
	if bucket == "" {
		return nil, false, nil
	}

	region := strings.TrimSpace(os.Getenv("OSS_REGION"))
	if region == "" {
		// AuthV4 需要 region；不填时按默认大区处理。
		region = "cn-hangzhou"
	}

	endpoint := strings.TrimSpace(os.Getenv("OSS_ENDPOINT"))
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OSS_ENDPOINT_PUBLIC"))
	}
	if endpoint == "" {
		return nil, true, errors.New("已设置 OSS_BUCKET，但缺少 OSS_ENDPOINT")
	}

	prefix := strings.Trim(strings.TrimSpace(os.Getenv("OSS_PREFIX")), "/")
	if prefix == "" {
		prefix = "characters"
	}

	cdnBase := strings.TrimRight(strings.TrimSpace(os.Getenv("CDN_BASE_URL")), "/")

	cred, err := newAlibabaCredential(region) // 支持：本地 AK、ACK RRSA(OIDC)、其他链路
	if err != nil {
		return nil, true, fmt.Errorf("初始化阿里云凭证失败: %w", err)
	}
	// 尽早校验一次，避免后续 PutObject 以“匿名请求”形式打到 OSS，导致 403 这种误导性错误。
	if err := validateAlibabaCredential(cred); err != nil {
		return nil, true, err
	}

	client, err := newOSSClient(endpoint, region, &credentialsProvider{cred: cred})
	if err != nil {
		return nil, true, fmt.Errorf("初始化 OSS 客户端失败: %w", err)
	}
	b, err := client.Bucket(bucket)
	if err != nil {
		return nil, true, fmt.Errorf("打开 OSS bucket 失败: %w", err)
	}

	return &Store{
		bucketName: bucket,
		bucket:     b,
		cred:       cred,
		prefix:     prefix,
		cdnBase:    cdnBase,
	}, true, nil
}

func newAlibabaCredential(region string) (credentials.Credential, error) {
	// RRSA 环境变量齐全时显式走 OIDC，并允许指定区域化 STS endpoint。
	roleArn := strings.TrimSpace(os.Getenv("ALIBABA_CLOUD_ROLE_ARN"))
	providerArn := strings.TrimSpace(os.Getenv("ALIBABA_CLOUD_OIDC_PROVIDER_ARN"))
	tokenFile := strings.TrimSpace(os.Getenv("ALIBABA_CLOUD_OIDC_TOKEN_FILE"))
	if roleArn != "" && providerArn != "" && tokenFile != "" {
		cfg := new(credentials.Config).
			SetType("oidc_role_arn").
			SetRoleArn(roleArn).
			SetOIDCProviderArn(providerArn).
			SetOIDCTokenFilePath(tokenFile)

		stsEndpoint := strings.TrimSpace(os.Getenv("ALIBABA_CLOUD_STS_ENDPOINT"))
		if stsEndpoint == "" {
			stsEndpoint = "sts.aliyuncs.com"
			if strings.TrimSpace(region) != "" {
				stsEndpoint = "sts." + strings.TrimSpace(region) + ".aliyuncs.com"
			}
		}
		cfg.SetSTSEndpoint(stsEndpoint)
		return credentials.NewCredential(cfg)
	}
	return credentials.NewCredential(nil)
}

func validateAlibabaCredential(cred credentials.Credential) error {
	if cred == nil {
		return errors.New("阿里云凭证未初始化（RRSA/AK/STS 都不可用）")
	}
	c, err := cred.GetCredential()
	if err != nil {
		return fmt.Errorf("获取阿里云凭证失败: %w", err)
	}
	if c == nil || c.AccessKeyId == nil || c.AccessKeySecret == nil || strings.TrimSpace(*c.AccessKeyId) == "" || strings.TrimSpace(*c.AccessKeySecret) == "" {
		return errors.New("阿里云凭证为空：请设置 ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET 或 RRSA 相关变量")
	}
	return nil
}

func newOSSClient(endpoint, region string, provider oss.CredentialsProvider) (*oss.Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("OSS endpoint 为空")
	}
	connectSec := readEnvInt64Default("OSS_CONNECT_TIMEOUT_SECONDS", 10)
	rwSec := readEnvInt64Default("OSS_RW_TIMEOUT_SECONDS", 120)
	opts := []oss.ClientOption{
		oss.SetCredentialsProvider(provider),
		oss.AuthVersion(oss.AuthV4),
		oss.Timeout(connectSec, rwSec),
	}
	if strings.TrimSpace(region) != "" {
		opts = append(opts, oss.Region(region))
	}
	// accessKeyId/secret 留空，完全走 provider。
	return oss.New(endpoint, "", "", opts...)
}

func (s *Store) Enabled() bool { return s != nil && s.bucket != nil }

func (s *Store) BucketName() string {
	if s == nil {
		return ""
	}
	return s.bucketName
}

// ObjectKeyForVariant returns "<prefix>/<file><ext>" where file is
// domain.FileName(variant); ext includes the dot.
func (s *Store) ObjectKeyForVariant(variant, ext string) string {
	p := ""
	if s != nil {
		p = s.prefix
	}
	return path.Join(p, domain.FileName(variant)+ext)
}

func (s *Store) ensureCred() error {
	if s == nil || s.cred == nil {
		return errors.New("阿里云凭证未初始化（RRSA/AK/STS 都不可用）")
	}
	return validateAlibabaCredential(s.cred)
}

// Exists asks the bucket directly, independent of any local ledger.
func (s *Store) Exists(objectKey string) (bool, error) {
	if !s.Enabled() {
		return false, errors.New("OSS 未启用")
	}
	if err := s.ensureCred(); err != nil {
		return false, err
	}
	objectKey = strings.TrimLeft(strings.TrimSpace(objectKey), "/")
	if objectKey == "" {
		return false, errors.New("objectKey 为空")
	}
	return s.bucket.IsObjectExist(objectKey)
}

func (s *Store) PutFileFromPath(objectKey, localPath, contentType string) error {
	if !s.Enabled() {
		return errors.New("OSS 未启用")
	}
	if err := s.ensureCred(); err != nil {
		return err
	}
	objectKey = strings.TrimLeft(strings.TrimSpace(objectKey), "/")
	localPath = strings.TrimSpace(localPath)
	if objectKey == "" || localPath == "" {
		return errors.New("objectKey/localPath 无效")
	}
	opts := []oss.Option{
		oss.CacheControl("public, max-age=31536000, immutable"),
	}
	if strings.TrimSpace(contentType) != "" {
		opts = append(opts, oss.ContentType(strings.TrimSpace(contentType)))
	}
	return s.bucket.PutObjectFromFile(objectKey, localPath, opts...)
}

// PublicURL is the CDN URL for key, or "" when CDN_BASE_URL is unset.
func (s *Store) PublicURL(objectKey string) string {
	if s == nil || s.cdnBase == "" {
		return ""
	}
	key := strings.TrimLeft(strings.TrimSpace(objectKey), "/")
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.cdnBase + "/" + strings.Join(segs, "/")
}

// --- Credentials bridge: credentials-go -> OSS SDK V1 ---

type credentialsProvider struct {
	cred credentials.Credential
}

type ossCred struct {
	AccessKeyId     string
	AccessKeySecret string
	SecurityToken   string
}

func (c *ossCred) GetAccessKeyID() string     { return c.AccessKeyId }
func (c *ossCred) GetAccessKeySecret() string { return c.AccessKeySecret }
func (c *ossCred) GetSecurityToken() string   { return c.SecurityToken }

func (p *credentialsProvider) GetCredentials() oss.Credentials {
	out, err := p.cred.GetCredential()
	if err != nil || out == nil || out.AccessKeyId == nil || out.AccessKeySecret == nil {
		// provider 接口不返回 error；返回空凭证，让请求在调用时失败并暴露错误。
		return &ossCred{}
	}
	return &ossCred{
		AccessKeyId:     deref(out.AccessKeyId),
		AccessKeySecret: deref(out.AccessKeySecret),
		SecurityToken:   deref(out.SecurityToken),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func readEnvInt64Default(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
