// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/grailbio/base/config"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type fakeEC2 struct {
	groups     []*ec2.SecurityGroup
	vpcs       []*ec2.Vpc
	created    []string
	authorized []*ec2.AuthorizeSecurityGroupIngressInput
}

func (f *fakeEC2) DescribeSecurityGroups(*ec2.DescribeSecurityGroupsInput) (*ec2.DescribeSecurityGroupsOutput, error) {
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: f.groups}, nil
}

func (f *fakeEC2) DescribeVpcs(*ec2.DescribeVpcsInput) (*ec2.DescribeVpcsOutput, error) {
	return &ec2.DescribeVpcsOutput{Vpcs: f.vpcs}, nil
}

func (f *fakeEC2) CreateSecurityGroup(in *ec2.CreateSecurityGroupInput) (*ec2.CreateSecurityGroupOutput, error) {
	f.created = append(f.created, aws.StringValue(in.GroupName))
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String("sg-new")}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(in *ec2.AuthorizeSecurityGroupIngressInput) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.authorized = append(f.authorized, in)
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func (f *fakeEC2) CreateTags(*ec2.CreateTagsInput) (*ec2.CreateTagsOutput, error) {
	return &ec2.CreateTagsOutput{}, nil
}

func TestSecurityGroupExisting(t *testing.T) {
	svc := &fakeEC2{groups: []*ec2.SecurityGroup{{GroupId: aws.String("sg-old")}}}
	id, err := securityGroupID(svc, "purify")
	assert.NoError(t, err)
	expect.EQ(t, id, "sg-old")
	expect.EQ(t, len(svc.created), 0)
}

func TestSecurityGroupCreate(t *testing.T) {
	svc := &fakeEC2{vpcs: []*ec2.Vpc{{VpcId: aws.String("vpc-1"), CidrBlock: aws.String("10.0.0.0/16")}}}
	id, err := securityGroupID(svc, "purify")
	assert.NoError(t, err)
	expect.EQ(t, id, "sg-new")
	expect.EQ(t, svc.created, []string{"purify"})
	assert.EQ(t, len(svc.authorized), 1)
	perms := svc.authorized[0].IpPermissions
	assert.EQ(t, len(perms), 3)
	expect.EQ(t, aws.StringValue(perms[0].IpRanges[0].CidrIp), "10.0.0.0/16")
	expect.EQ(t, aws.Int64Value(perms[1].FromPort), int64(22))
	expect.EQ(t, aws.Int64Value(perms[2].FromPort), int64(443))
}

func TestSecurityGroupNoVPC(t *testing.T) {
	if _, err := securityGroupID(new(fakeEC2), "purify"); err == nil {
		t.Error("expected error")
	}
}

func TestConfigureEC2(t *testing.T) {
	profile := config.New()
	assert.NoError(t, configureEC2(profile, "sg-1", "m5.xlarge"))
	for _, c := range []struct{ key, want string }{
		{"purify.system", "bigmachine/ec2system"},
		{"bigmachine/ec2system.security-group", "sg-1"},
		{"bigmachine/ec2system.instance", "m5.xlarge"},
	} {
		v, ok := profile.Get(c.key)
		if !ok {
			t.Errorf("%s: not set", c.key)
			continue
		}
		expect.EQ(t, strings.Trim(v, `"`), c.want)
	}
}
